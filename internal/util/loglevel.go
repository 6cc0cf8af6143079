package util

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	projectRootDir     string
	projectRootDirOnce sync.Once
)

// LogLevelFromString parses s into a zerolog level, falling back to debug.
func LogLevelFromString(s string) zerolog.Level {
	l, err := zerolog.ParseLevel(s)
	if err != nil {
		log.Error().Err(err).Str("level", s).Msg("Failed to parse log level, defaulting to debug")
		return zerolog.DebugLevel
	}

	return l
}

// GetProjectRootDir returns the path as string to the project_root. PROJECT_ROOT_DIR takes precedence.
func GetProjectRootDir() string {
	projectRootDirOnce.Do(func() {
		if val, ok := os.LookupEnv("PROJECT_ROOT_DIR"); ok {
			projectRootDir = val
			return
		}

		_, b, _, _ := runtime.Caller(0)
		projectRootDir = filepath.Join(filepath.Dir(b), "../..")
	})

	return projectRootDir
}
