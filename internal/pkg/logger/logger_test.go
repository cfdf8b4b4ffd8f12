package logger

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesRotatedFile(t *testing.T) {
	defer log.SetOutput(os.Stdout)
	file := filepath.Join(t.TempDir(), "commission.log")

	require.NoError(t, Init(Options{Level: "debug", Format: "json", File: file, MaxSizeMB: 1}))
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	log.WithField("user", "u1").Info("hello")
	data, err := ioutil.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"user":"u1"`)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	require.Error(t, Init(Options{Level: "loud"}))
	require.NoError(t, Init(Options{}))
	assert.Equal(t, log.InfoLevel, log.GetLevel())
	assert.Equal(t, os.Stdout, Writer(Options{}))
}
