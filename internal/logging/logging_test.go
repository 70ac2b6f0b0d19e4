package logging

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSetup(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	tests := []struct {
		level string
		want  log.Level
	}{
		{"debug", log.DebugLevel},
		{"WARN", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"", log.InfoLevel},
		{"verbose", log.InfoLevel},
	}
	for _, tt := range tests {
		Setup(tt.level, "text")
		assert.Equal(t, tt.want, log.GetLevel(), "level %q", tt.level)
	}

	Setup("info", "json")
	_, ok := log.StandardLogger().Formatter.(*log.JSONFormatter)
	assert.True(t, ok, "json format must install JSONFormatter")
	log.SetFormatter(&log.TextFormatter{})
}
