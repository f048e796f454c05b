// Package actionlib layers preemptable goals on top of rosbridge
// topics. An action is five coordinated topics per action name:
// goal, cancel, status, feedback and result. ActionClient drives
// goals against a remote action server; SimpleActionServer accepts
// and executes one goal at a time with preemption.
package actionlib

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type goalIDGenerator struct {
	goals      int
	goalsMutex sync.Mutex
}

func newGoalIDGenerator() *goalIDGenerator {
	return &goalIDGenerator{}
}

func (g *goalIDGenerator) generateID() string {
	g.goalsMutex.Lock()
	defer g.goalsMutex.Unlock()

	g.goals++
	return fmt.Sprintf("goal_%s_%d", uuid.New().String(), g.goals)
}
