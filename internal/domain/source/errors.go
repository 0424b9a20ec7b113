package source

import (
	"fmt"
	"time"
)

func errSourceFieldRequired(field string) error {
	return fmt.Errorf("source: %s is required", field)
}

func errSourceInvalidType(t Type) error {
	return fmt.Errorf("source: invalid source_type %q", t)
}

func errSourceIntervalTooShort(name string, d time.Duration) error {
	return fmt.Errorf("source %s: interval %s below minimum %s", name, d, MinInterval)
}

func errSourceNegativeRetry(name string) error {
	return fmt.Errorf("source %s: retry_count must be >= 0", name)
}
