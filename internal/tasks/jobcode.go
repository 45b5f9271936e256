package tasks

// Job codes, the complete control-plane enum the child may send.
const (
	SoftRestart = 1
	HardRestart = 2
	FetchCore   = 3
	FetchRepos  = 4
	GetCore     = 5
	GetRepos    = 6
	AddRepo     = 7
	RemoveRepo  = 8

	GetCoreNewCommits = 9
	GetCoreOldCommits = 10
	GetRepoNewCommits = 11
	GetRepoOldCommits = 12

	SetCoreBranch  = 13
	SetCoreVersion = 14

	SetRepoBranch   = 15
	SetRepoVersion  = 16
	SetRepoPriority = 17

	ConstraintsAdd    = 18
	ConstraintsRemove = 19
	ConstraintsGet    = 20
	ConstraintsClear  = 21

	InvalidateReposCache = 22
	SetEnv               = 23
	UnsetEnv             = 24
)
