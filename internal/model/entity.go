package model

import "time"

// EntityKind identifies which collection an entity belongs to.
type EntityKind string

const (
	KindBoard EntityKind = "board"
	KindList  EntityKind = "list"
	KindTask  EntityKind = "task"
)

// Entity is the capability set shared by boards, lists, and tasks that
// the sync engine needs: identity, version, and modification time.
type Entity interface {
	EntityID() string
	EntityVersion() int64
	EntityUpdatedAt() time.Time
}

func (b Board) EntityID() string           { return b.ID }
func (b Board) EntityVersion() int64       { return b.Version }
func (b Board) EntityUpdatedAt() time.Time { return b.UpdatedAt }

func (l List) EntityID() string           { return l.ID }
func (l List) EntityVersion() int64       { return l.Version }
func (l List) EntityUpdatedAt() time.Time { return l.UpdatedAt }

func (t Task) EntityID() string           { return t.ID }
func (t Task) EntityVersion() int64       { return t.Version }
func (t Task) EntityUpdatedAt() time.Time { return t.UpdatedAt }

// Snapshot is the full owned data set for one identity, as mirrored by
// the local cache and held in memory by the sync engine.
type Snapshot struct {
	Boards []Board `json:"boards"`
	Lists  []List  `json:"lists"`
	Tasks  []Task  `json:"tasks"`
}
