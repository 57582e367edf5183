package models

import (
	"regexp"
	"time"
)

// JobStatus is the orchestrator-side view of an analysis job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// AnalysisIDPattern is the shape of ids the backend hands out.
const AnalysisIDPattern = `^analysis_[A-Za-z0-9_-]{16,32}$`

var analysisIDRe = regexp.MustCompile(AnalysisIDPattern)

// ValidAnalysisID reports whether id looks like a backend-issued job id.
func ValidAnalysisID(id string) bool {
	return analysisIDRe.MatchString(id)
}

// AnalysisJob is the single job a session tracks.
type AnalysisJob struct {
	ID        string    `json:"analysis_id"`
	Symbol    string    `json:"symbol"`
	StartedAt time.Time `json:"started_at"`
	Status    JobStatus `json:"status"`
	Cached    bool      `json:"cached"`
}

// Lang is the UI language; anything other than English is Traditional Chinese.
type Lang string

const (
	LangEN   Lang = "en"
	LangZhTW Lang = "zh-TW"
)

// NormalizeLang maps arbitrary input to a supported language.
func NormalizeLang(s string) Lang {
	if s == string(LangEN) {
		return LangEN
	}
	return LangZhTW
}
