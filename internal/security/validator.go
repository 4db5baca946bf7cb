package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// Submission validator — pre-sandbox validation framework
// ---------------------------------------------------------------------------

// FileDescriptor is the name/size summary of one submitted file, enough
// to validate before the pipeline commits to copying it into a sandbox.
type FileDescriptor struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// SubmissionManifest describes a submission's shape ahead of PREFLIGHT:
// who it's from, what files it contains, and an optional caller-declared
// checksum for resubmission detection.
type SubmissionManifest struct {
	AssignmentID string           `json:"assignment_id"`
	UserID       string           `json:"user_id"`
	Language     string           `json:"language"`
	Files        []FileDescriptor `json:"files"`
	Checksum     string           `json:"checksum"` // SHA-256 of submitted content, verified via VerifyChecksum
}

// ValidationResult holds the outcome of submission validation.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// SubmissionValidator validates submissions before PREFLIGHT copies their
// files into a sandbox.
type SubmissionValidator struct {
	mu           sync.RWMutex
	blockedUsers map[string]bool
	maxFileBytes int64
	maxTotal     int64
	maxFiles     int
}

// ValidatorConfig holds configuration for the SubmissionValidator.
type ValidatorConfig struct {
	BlockedUsers  []string // users whose submissions are rejected outright
	MaxFileBytes  int64    // maximum size of any single submitted file (default: 5MB)
	MaxTotalBytes int64    // maximum total submission size (default: 20MB)
	MaxFiles      int      // maximum file count per submission (default: 200)
}

// NewSubmissionValidator creates a SubmissionValidator with the given
// config.
func NewSubmissionValidator(cfg ValidatorConfig) *SubmissionValidator {
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 5 * 1024 * 1024
	}
	if cfg.MaxTotalBytes <= 0 {
		cfg.MaxTotalBytes = 20 * 1024 * 1024
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 200
	}

	blocked := make(map[string]bool)
	for _, u := range cfg.BlockedUsers {
		blocked[u] = true
	}

	return &SubmissionValidator{
		blockedUsers: blocked,
		maxFileBytes: cfg.MaxFileBytes,
		maxTotal:     cfg.MaxTotalBytes,
		maxFiles:     cfg.MaxFiles,
	}
}

// Validate checks a submission manifest against safety policy. A non-Valid
// result should stop PREFLIGHT before any file is copied into a sandbox.
func (v *SubmissionValidator) Validate(manifest SubmissionManifest) ValidationResult {
	result := ValidationResult{Valid: true}

	// 1. Check if the user is blocked.
	v.mu.RLock()
	if v.blockedUsers[manifest.UserID] {
		result.Valid = false
		result.Errors = append(result.Errors, "user is blocked from submitting")
		v.mu.RUnlock()
		return result
	}
	v.mu.RUnlock()

	// 2. Check checksum present.
	if manifest.Checksum == "" {
		result.Warnings = append(result.Warnings, "no checksum — submission integrity unverified")
	}

	// 3. Check file count.
	if len(manifest.Files) > v.maxFiles {
		result.Valid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("submission has %d files, exceeds limit %d", len(manifest.Files), v.maxFiles))
	}

	// 4. Check per-file size and path safety.
	var total int64
	for _, f := range manifest.Files {
		total += f.Size

		if f.Size > v.maxFileBytes {
			result.Valid = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("file %q is %d bytes, exceeds limit %d", f.Name, f.Size, v.maxFileBytes))
		}
		if isPathTraversal(f.Name) {
			result.Valid = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("file %q escapes the submission directory", f.Name))
		}
		if isSuspiciousName(f.Name) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("suspicious file name: %s", f.Name))
		}
	}

	// 5. Check total submission size.
	if total > v.maxTotal {
		result.Valid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("submission totals %d bytes, exceeds limit %d", total, v.maxTotal))
	}

	if len(manifest.Files) == 0 {
		result.Warnings = append(result.Warnings, "submission has no files")
	}

	return result
}

// VerifyChecksum checks that submitted content matches the manifest's
// declared checksum.
func (v *SubmissionValidator) VerifyChecksum(manifest SubmissionManifest, content []byte) bool {
	if manifest.Checksum == "" {
		return false
	}
	return ComputeChecksum(content) == manifest.Checksum
}

// ComputeChecksum computes the SHA-256 checksum of submitted content, used
// both to populate SubmissionManifest.Checksum and to detect a
// resubmission identical to one already graded.
func ComputeChecksum(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// BlockUser adds a user to the blocklist.
func (v *SubmissionValidator) BlockUser(userID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.blockedUsers[userID] = true
}

// UnblockUser removes a user from the blocklist.
func (v *SubmissionValidator) UnblockUser(userID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.blockedUsers, userID)
}

// IsBlocked checks if a user is blocked.
func (v *SubmissionValidator) IsBlocked(userID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.blockedUsers[userID]
}

// ---------------------------------------------------------------------------
// Run limiter
// ---------------------------------------------------------------------------

// RunLimiter caps how many pipeline runs a single user may have in flight
// at once, so one user resubmitting rapidly can't starve the sandbox pool
// for everyone else.
type RunLimiter struct {
	mu        sync.RWMutex
	runCounts map[string]int // userID → current concurrent runs
}

// NewRunLimiter creates a RunLimiter.
func NewRunLimiter() *RunLimiter {
	return &RunLimiter{
		runCounts: make(map[string]int),
	}
}

// LimitViolation describes why a run was denied.
type LimitViolation struct {
	UserID  string `json:"user_id"`
	Rule    string `json:"rule"`
	Details string `json:"details"`
}

// CheckRun reports whether userID may start another concurrent run.
// Returns nil if allowed.
func (l *RunLimiter) CheckRun(userID string, maxConcurrent int) *LimitViolation {
	l.mu.RLock()
	current := l.runCounts[userID]
	l.mu.RUnlock()

	if maxConcurrent > 0 && current >= maxConcurrent {
		return &LimitViolation{
			UserID:  userID,
			Rule:    "max_concurrent_runs",
			Details: fmt.Sprintf("user has %d/%d concurrent runs", current, maxConcurrent),
		}
	}
	return nil
}

// AcquireRun marks the start of a run for concurrency tracking.
func (l *RunLimiter) AcquireRun(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runCounts[userID]++
}

// ReleaseRun marks the end of a run.
func (l *RunLimiter) ReleaseRun(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runCounts[userID]--
	if l.runCounts[userID] <= 0 {
		delete(l.runCounts, userID)
	}
}

// ActiveRuns returns the number of concurrent runs for a user.
func (l *RunLimiter) ActiveRuns(userID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.runCounts[userID]
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func isPathTraversal(name string) bool {
	if strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return true
	}
	return strings.Contains(name, "..")
}

// isSuspiciousName flags file names that look like an attempt to smuggle
// something other than source into a sandbox.
func isSuspiciousName(name string) bool {
	suspicious := []string{".so", ".exe", ".dll", "symlink"}
	lower := strings.ToLower(name)
	for _, s := range suspicious {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
