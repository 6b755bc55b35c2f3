package domain

// Commit is one entry of a push notification.
type Commit struct {
	ID       string   `json:"id"`
	Message  string   `json:"message"`
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Removed  []string `json:"removed"`
}

// PushEvent is the subset of a forge push payload SID consumes.
type PushEvent struct {
	Ref        string   `json:"ref"`
	After      string   `json:"after"`
	Commits    []Commit `json:"commits"`
	HeadCommit *Commit  `json:"head_commit,omitempty"`
}

// ChangeSet is the flattened, ordered list of paths touched by a push.
type ChangeSet []string

// ChangeSet flattens every commit's added, modified and removed paths.
// The head commit is only consulted when the commit list is empty.
func (p *PushEvent) ChangeSet() ChangeSet {
	commits := p.Commits
	if len(commits) == 0 && p.HeadCommit != nil {
		commits = []Commit{*p.HeadCommit}
	}
	var cs ChangeSet
	for _, c := range commits {
		cs = append(cs, c.Added...)
		cs = append(cs, c.Modified...)
		cs = append(cs, c.Removed...)
	}
	return cs
}

// RunKind identifies what started a pipeline run.
type RunKind string

const (
	RunWebhook   RunKind = "webhook"
	RunSync      RunKind = "sync"
	RunReconcile RunKind = "reconcile"
	RunBringUp   RunKind = "bring-up"
)

// DeployResult is the API view of one deployment outcome.
type DeployResult struct {
	Directory string `json:"directory"`
	Stack     string `json:"stack"`
	Success   bool   `json:"success"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RunReport summarizes a completed pipeline run.
type RunReport struct {
	Kind          RunKind        `json:"kind"`
	MirrorPath    string         `json:"mirrorPath"`
	WasFreshClone bool           `json:"wasFreshClone"`
	Stacks        []string       `json:"stacks,omitempty"`
	Deployments   []DeployResult `json:"deployments,omitempty"`
	Failed        int            `json:"failed"`
}
