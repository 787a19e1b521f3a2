package calibration_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readyscore/readyscore/pkg/calibration"
	"github.com/readyscore/readyscore/pkg/stack"
)

func TestReadScaffold(t *testing.T) {
	in := strings.Join([]string{
		"repo,expert_score,stack_tag,label_source",
		"a,30,python_backend,",
		"b,,node_frontend,manual_required",
		"c,12.5,django_templates,provisional_autofill",
		",5,,",
	}, "\n")

	rows, err := calibration.ReadScaffold(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.False(t, rows[1].Labelled)

	labels := calibration.Labels(rows)
	require.Len(t, labels, 2)
	assert.Equal(t, calibration.Label{RepositoryID: "a", ExpertScore: 30, StackTag: stack.PythonBackend, Source: calibration.SourceExpert}, labels[0])
	assert.Equal(t, stack.PythonDjangoTemplates, labels[1].StackTag)
	assert.True(t, labels[1].Provisional())
}

func TestReadScaffoldErrors(t *testing.T) {
	tests := map[string]string{
		"empty":              "",
		"no score column":    "repository_id,notes\na,x\n",
		"no id column":       "expert_score\n10\n",
		"non-numeric score":  "repository_id,expert_score\na,high\n",
		"score out of range": "repository_id,expert_score\na,51\n",
		"unknown stack":      "repository_id,expert_score,stack_tag\na,10,rust\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := calibration.ReadScaffold(strings.NewReader(in))
			assert.Error(t, err)
		})
	}

	_, err := calibration.ReadScaffold(strings.NewReader("repository_id,expert_score\na,1\nb,oops\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

func TestScaffoldRoundTrip(t *testing.T) {
	rows := []calibration.ScaffoldRow{
		{
			Label:               calibration.Label{RepositoryID: "acme/api", ExpertScore: 31.5, StackTag: stack.PythonBackend, Source: calibration.SourceProvisional, Notes: "review_required"},
			Labelled:            true,
			ModelScore:          29.75,
			DataQualityStatus:   "ok",
			DataCoveragePercent: 88.5,
			Category:            "excellent",
		},
		{
			Label:             calibration.Label{RepositoryID: "acme/web, legacy", Source: calibration.SourceManual},
			ModelScore:        4.1,
			DataQualityStatus: "warning",
			Category:          "insufficient_data",
		},
	}

	var buf bytes.Buffer
	require.NoError(t, calibration.WriteScaffold(&buf, rows))
	got, err := calibration.ReadScaffold(&buf)
	require.NoError(t, err)
	assert.Equal(t, rows, got)

	path := filepath.Join(t.TempDir(), "labels", "golden_set.csv")
	require.NoError(t, calibration.SaveScaffold(path, rows))
	labels, err := calibration.LoadLabels(path)
	require.NoError(t, err)
	require.Len(t, labels, 1)
	assert.Equal(t, "acme/api", labels[0].RepositoryID)
}
