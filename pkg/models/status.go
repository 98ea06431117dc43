package models

// Task statuses used throughout the codebase. The only backward edge is
// StatusQADone -> StatusCreated (QA rejection).
const (
	StatusCreated   = "created"
	StatusUnderWork = "under_work"
	StatusDevDone   = "dev_done"
	StatusQADone    = "qa_done"
	StatusDocsDone  = "documentation_done"
	StatusCommitted = "committed"
)

// Agent roles.
const (
	RoleBackendDev  = "backend_dev"
	RoleFrontendDev = "frontend_dev"
	RoleQA          = "qa"
	RoleDocs        = "docs"
	RoleDevOps      = "devops"
)

// Skill levels, ordered junior < senior < principal.
const (
	LevelJunior    = "junior"
	LevelSenior    = "senior"
	LevelPrincipal = "principal"
)

// Task complexity: minor expects a direct commit, major a branch + PR downstream.
const (
	ComplexityMinor = "minor"
	ComplexityMajor = "major"
)

// Agent statuses.
const (
	AgentIdle    = "idle"
	AgentWorking = "working"
	AgentOffline = "offline"
)

// Mention source types.
const (
	SourceDocument = "document"
	SourceTask     = "task"
)

// Default limits.
const (
	DefaultMaxRequestBodyBytes = 1 << 20 // 1 MiB
	DefaultTaskListLimit       = 1000
	DefaultMentionListLimit    = 500
)

// ValidStatus reports whether s is a known task status.
func ValidStatus(s string) bool {
	switch s {
	case StatusCreated, StatusUnderWork, StatusDevDone, StatusQADone, StatusDocsDone, StatusCommitted:
		return true
	}
	return false
}

// ValidRole reports whether r is a known agent role.
func ValidRole(r string) bool {
	switch r {
	case RoleBackendDev, RoleFrontendDev, RoleQA, RoleDocs, RoleDevOps:
		return true
	}
	return false
}

// ValidLevel reports whether l is a known skill level.
func ValidLevel(l string) bool {
	switch l {
	case LevelJunior, LevelSenior, LevelPrincipal:
		return true
	}
	return false
}

// ValidComplexity reports whether c is a known task complexity.
func ValidComplexity(c string) bool {
	switch c {
	case ComplexityMinor, ComplexityMajor:
		return true
	}
	return false
}

// AllowedDifficulties returns the task difficulties an agent of the given
// skill level may take: junior takes junior only, senior takes junior and
// senior, principal takes any. Unknown levels get nothing.
func AllowedDifficulties(level string) []string {
	switch level {
	case LevelJunior:
		return []string{LevelJunior}
	case LevelSenior:
		return []string{LevelJunior, LevelSenior}
	case LevelPrincipal:
		return []string{LevelJunior, LevelSenior, LevelPrincipal}
	}
	return nil
}
