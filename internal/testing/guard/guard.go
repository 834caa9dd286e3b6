package guard

import (
	"os"
	"sync"
)

// TestModeEnv is the flag read by app.InTestMode.
const TestModeEnv = "MICIUDAD_TEST_MODE"

var once sync.Once

// Enable switches the process into test mode and fills the storage defaults
// LoadConfig requires, leaving values the caller already exported untouched.
func Enable() {
	once.Do(func() {
		setDefault(TestModeEnv, "1")
		setDefault("STORAGE_SECRET", "test-secret")
		setDefault("STORAGE_BACKEND", "memory")
	})
}

func setDefault(key, value string) {
	if os.Getenv(key) == "" {
		_ = os.Setenv(key, value)
	}
}

func init() {
	Enable()
}
