package records

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAll_FixedOrder(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []Type{TypeAttendanceByStaff, TypeAttendanceByStudent, TypeScoreEntries}, All())

	// Callers cannot reorder the package-level list
	got := All()
	got[0] = TypeScoreEntries
	assert.Equal(t, TypeAttendanceByStaff, All()[0])
}

func TestParseType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    Type
		wantErr bool
	}{
		{input: "attendance-by-staff", want: TypeAttendanceByStaff},
		{input: "attendance-by-student", want: TypeAttendanceByStudent},
		{input: "score-entries", want: TypeScoreEntries},
		{input: "grades", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParseType(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestType_GroupedAndIngestPath(t *testing.T) {
	t.Parallel()

	assert.True(t, TypeAttendanceByStaff.Grouped())
	assert.True(t, TypeAttendanceByStudent.Grouped())
	assert.False(t, TypeScoreEntries.Grouped())

	for _, typ := range All() {
		assert.NotEmpty(t, typ.IngestPath(), typ)
	}
	assert.Empty(t, Type("unknown").IngestPath())
}

func TestRecord_ChangedSince(t *testing.T) {
	t.Parallel()

	w := time.UnixMilli(100)
	assert.False(t, Record{CreatedAt: time.UnixMilli(50), UpdatedAt: time.UnixMilli(50)}.ChangedSince(w))
	assert.True(t, Record{CreatedAt: time.UnixMilli(50), UpdatedAt: time.UnixMilli(150)}.ChangedSince(w))
	assert.True(t, Record{CreatedAt: time.UnixMilli(200), UpdatedAt: time.UnixMilli(200)}.ChangedSince(w))
	assert.False(t, Record{CreatedAt: time.UnixMilli(100), UpdatedAt: time.UnixMilli(100)}.ChangedSince(w))
}
