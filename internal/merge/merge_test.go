package merge

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvelluri/parget/internal/planner"
	"github.com/nvelluri/parget/internal/segment"
)

// writeParts lays out one part file per range under a temp dir and returns
// states marked Completed, mirroring the post-download layout.
func writeParts(t *testing.T, ranges []planner.ByteRange, content []byte) (string, []*segment.State) {
	t.Helper()
	tempDir := filepath.Join(t.TempDir(), ".parget-temp")
	require.NoError(t, os.MkdirAll(tempDir, 0755))
	states := make([]*segment.State, 0, len(ranges))
	for _, r := range ranges {
		path := filepath.Join(tempDir, "out.bin.deadbeef.part"+string(rune('0'+r.Index)))
		require.NoError(t, os.WriteFile(path, content[r.StartByte:r.EndByte+1], 0644))
		st := segment.NewState(r, path)
		st.SetStatus(segment.Completed)
		states = append(states, st)
	}
	return tempDir, states
}

func testContent(n int) []byte {
	content := make([]byte, n)
	for i := range content {
		content[i] = byte(i % 253)
	}
	return content
}

func TestCombineConcatenatesInRangeOrder(t *testing.T) {
	content := testContent(1000)
	ranges, err := planner.Plan(1000, 3)
	require.NoError(t, err)
	tempDir, states := writeParts(t, ranges, content)

	outputPath := filepath.Join(filepath.Dir(tempDir), "out.bin")
	require.NoError(t, Combine(states, outputPath))

	got, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got), "merged output must equal the byte-for-byte concatenation")

	for _, st := range states {
		_, err := os.Stat(st.TempFilePath)
		assert.True(t, os.IsNotExist(err), "part file must be removed after a successful merge")
	}
	_, err = os.Stat(tempDir)
	assert.True(t, os.IsNotExist(err), "empty temp dir must be pruned")
}

func TestCombineHandlesShuffledInput(t *testing.T) {
	content := testContent(4096)
	ranges, err := planner.Plan(4096, 4)
	require.NoError(t, err)
	_, states := writeParts(t, ranges, content)

	shuffled := []*segment.State{states[2], states[0], states[3], states[1]}
	outputPath := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, Combine(shuffled, outputPath))

	got, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))
}

func TestCombineRejectsIncompleteSegments(t *testing.T) {
	content := testContent(100)
	ranges, err := planner.Plan(100, 2)
	require.NoError(t, err)
	_, states := writeParts(t, ranges, content)
	states[1].SetStatus(segment.Stopped)

	outputPath := filepath.Join(t.TempDir(), "out.bin")
	err = Combine(states, outputPath)
	require.Error(t, err)

	_, statErr := os.Stat(outputPath)
	assert.True(t, os.IsNotExist(statErr), "no output file before preconditions hold")
}

func TestCombineLengthMismatchKeepsPartialOutput(t *testing.T) {
	content := testContent(1000)
	ranges, err := planner.Plan(1000, 2)
	require.NoError(t, err)
	_, states := writeParts(t, ranges, content)

	// Truncate the second part behind the state's back.
	require.NoError(t, os.WriteFile(states[1].TempFilePath, content[500:900], 0644))

	outputPath := filepath.Join(t.TempDir(), "out.bin")
	err = Combine(states, outputPath)
	require.Error(t, err)

	var mergeErr *Error
	require.ErrorAs(t, err, &mergeErr)
	assert.Equal(t, LengthMismatch, mergeErr.Kind)

	// The partial output survives for inspection.
	_, statErr := os.Stat(outputPath)
	assert.NoError(t, statErr)
	for _, st := range states {
		_, err := os.Stat(st.TempFilePath)
		assert.NoError(t, err, "part files must survive a failed merge")
	}
}
