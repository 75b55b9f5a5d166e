package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestInit_JSON(t *testing.T) {
	var buf bytes.Buffer
	Init(false, &buf)
	defer Init(false, nil)

	WithFields(logrus.Fields{"attack_type": "sql_injection"}).Info("detected")
	assert.Contains(t, buf.String(), `"attack_type":"sql_injection"`)
	assert.Contains(t, buf.String(), `"msg":"detected"`)

	Log().Debug("hidden")
	assert.NotContains(t, buf.String(), "hidden")
}

func TestInit_Debug(t *testing.T) {
	var buf bytes.Buffer
	Init(true, &buf)
	defer Init(false, nil)

	Log().Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestOutput(t *testing.T) {
	assert.Equal(t, os.Stdout, Output(""))

	path := filepath.Join(t.TempDir(), "warden.log")
	w := Output(path)
	_, err := w.Write([]byte("line\n"))
	assert.NoError(t, err)
	assert.FileExists(t, path)
}
