package actionlib

import (
	"sync"
	"time"

	"github.com/edwinhayes/rosbridge/ros"
	"github.com/pkg/errors"
)

// Goal is one preemptable task sent to an action server. It emits
// "status", "feedback", "result" and "timeout" events and records the
// latest value of each. A goal is finished only when both a result
// has been received and its latest status is terminal.
type Goal struct {
	*ros.EventEmitter

	client      *ActionClient
	id          string
	goalMessage ros.Message

	mutex      sync.Mutex
	status     uint8
	statusText string
	feedback   ros.Message
	result     ros.Message
	resultSeen bool

	done     chan struct{}
	doneOnce sync.Once
}

// NewGoal wraps a goal payload for the given action client and
// registers it so incoming status/feedback/result traffic is routed
// here. Send actually submits it.
func NewGoal(client *ActionClient, goalMessage ros.Message) *Goal {
	goal := &Goal{
		EventEmitter: ros.NewEventEmitter(),
		client:       client,
		id:           client.idGen.generateID(),
		status:       GoalStatusPending,
		done:         make(chan struct{}),
	}

	goal.goalMessage = ros.Message{
		"goal_id": ros.Message{
			"stamp": ros.Time{},
			"id":    goal.id,
		},
		"goal": goalMessage,
	}

	client.addGoal(goal)
	return goal
}

// ID returns the goal id carried in every frame of this goal.
func (g *Goal) ID() string {
	return g.id
}

// Send submits the goal. A positive timeout emits "timeout" if the
// goal has not finished when it expires.
func (g *Goal) Send(timeout time.Duration) {
	g.client.goalTopic.Publish(g.goalMessage)

	if timeout > 0 {
		g.client.ros.CallLater(timeout, func() {
			if !g.IsFinished() {
				g.Emit("timeout", nil)
			}
		})
	}
}

// Cancel requests preemption of this goal. Each call publishes one
// cancel message for the goal id; repeated cancels are idempotent and
// leave the goal in the same state as a single one.
func (g *Goal) Cancel() {
	g.client.cancelTopic.Publish(ros.Message{
		"stamp": ros.Now(),
		"id":    g.id,
	})
}

// Wait blocks until the goal finishes or the timeout expires, and
// returns the result.
func (g *Goal) Wait(timeout time.Duration) (ros.Message, error) {
	select {
	case <-g.done:
		return g.Result(), nil
	case <-time.After(timeout):
		return nil, errors.Wrapf(ros.ErrTimeout, "goal %s", g.id)
	}
}

// Done is closed once the goal is finished.
func (g *Goal) Done() <-chan struct{} {
	return g.done
}

// IsFinished reports terminality: a result has been observed and the
// latest status is in the terminal set.
func (g *Goal) IsFinished() bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return g.resultSeen && IsTerminalStatus(g.status)
}

// Status returns the latest observed status code.
func (g *Goal) Status() uint8 {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return g.status
}

// StatusText returns the human-readable text of the latest status.
func (g *Goal) StatusText() string {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return g.statusText
}

// Result returns the result payload, or nil until a result message has
// been received. A result can be present before the goal is finished.
func (g *Goal) Result() ros.Message {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return g.result
}

// Feedback returns the most recent feedback payload.
func (g *Goal) Feedback() ros.Message {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return g.feedback
}

func (g *Goal) updateStatus(status ros.Message) {
	code, ok := status.Int("status")
	if !ok {
		return
	}

	g.mutex.Lock()
	g.status = uint8(code)
	g.statusText = status.String("text")
	g.mutex.Unlock()

	g.Emit("status", status)
	g.checkFinished()
}

func (g *Goal) updateFeedback(feedback ros.Message) {
	g.mutex.Lock()
	g.feedback = feedback
	g.mutex.Unlock()

	g.Emit("feedback", feedback)
}

func (g *Goal) updateResult(result ros.Message) {
	g.mutex.Lock()
	g.result = result
	g.resultSeen = true
	g.mutex.Unlock()

	g.Emit("result", result)
	g.checkFinished()
}

func (g *Goal) checkFinished() {
	if !g.IsFinished() {
		return
	}
	g.doneOnce.Do(func() {
		close(g.done)
	})
}
