package shared

import "fmt"

// JobLockKey builds redis keys guarding single-instance job runs.
func JobLockKey(job string) string {
	return fmt.Sprintf("jobs:%s:lock", job)
}
