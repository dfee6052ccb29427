package engine

import (
	"github.com/tidwall/gjson"

	"github.com/dshills/devwire/internal/config"
)

// Lifecycle names the notifications that change the session tree and the
// gjson paths, relative to the event params, holding the ids they carry.
type Lifecycle struct {
	AttachMethods     []string
	AttachSessionPath string
	AttachTargetPath  string

	DetachMethods     []string
	DetachSessionPath string

	TargetGoneMethods []string
	TargetGonePath    string
}

// DefaultLifecycle returns the mapping used by Chrome DevTools style
// endpoints with flattened sessions.
func DefaultLifecycle() Lifecycle {
	return Lifecycle{
		AttachMethods:     []string{"Target.attachedToTarget"},
		AttachSessionPath: "sessionId",
		AttachTargetPath:  "targetInfo.targetId",
		DetachMethods:     []string{"Target.detachedFromTarget"},
		DetachSessionPath: "sessionId",
		TargetGoneMethods: []string{"Target.targetDestroyed", "Target.targetCrashed"},
		TargetGonePath:    "targetId",
	}
}

// LifecycleFromConfig converts the configured mapping.
func LifecycleFromConfig(c config.Lifecycle) Lifecycle {
	return Lifecycle{
		AttachMethods:     c.AttachMethods,
		AttachSessionPath: c.AttachSessionPath,
		AttachTargetPath:  c.AttachTargetPath,
		DetachMethods:     c.DetachMethods,
		DetachSessionPath: c.DetachSessionPath,
		TargetGoneMethods: c.TargetGoneMethods,
		TargetGonePath:    c.TargetGonePath,
	}
}

type transition int

const (
	transitionNone transition = iota
	transitionAttach
	transitionDetach
	transitionTargetGone
)

type lifecycleIndex struct {
	methods map[string]transition
	lc      Lifecycle
}

func newLifecycleIndex(lc Lifecycle) lifecycleIndex {
	idx := lifecycleIndex{methods: make(map[string]transition), lc: lc}
	for _, m := range lc.AttachMethods {
		idx.methods[m] = transitionAttach
	}
	for _, m := range lc.DetachMethods {
		idx.methods[m] = transitionDetach
	}
	for _, m := range lc.TargetGoneMethods {
		idx.methods[m] = transitionTargetGone
	}
	return idx
}

func (idx lifecycleIndex) classify(method string) transition {
	return idx.methods[method]
}

// param returns the string at path in params, or "".
func param(params []byte, path string) string {
	if path == "" {
		return ""
	}
	v := gjson.GetBytes(params, path)
	if v.Type != gjson.String {
		return ""
	}
	return v.Str
}
