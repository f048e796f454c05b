package actionlib

import (
	"sync"
	"time"

	"github.com/edwinhayes/rosbridge/ros"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const statusPublishInterval = 100 * time.Millisecond

// ExecuteCallback runs one accepted goal on a worker goroutine. It is
// expected to end the goal with SetSucceeded, SetAborted or, after
// observing IsPreemptRequested, SetPreempted. A callback that returns
// with the goal still active aborts it.
type ExecuteCallback func(server *SimpleActionServer, goal ros.Message)

// SimpleActionServer accepts one active goal at a time. A goal that
// arrives while another is active parks in the next-goal slot and
// raises the preempt request; the parked goal is accepted once the
// current one ends.
type SimpleActionServer struct {
	ros        *ros.Ros
	serverName string
	actionName string
	log        logrus.FieldLogger

	goalTopic     *ros.Topic
	cancelTopic   *ros.Topic
	statusTopic   *ros.Topic
	feedbackTopic *ros.Topic
	resultTopic   *ros.Topic

	goalToken       int
	cancelToken     int
	executeCallback ExecuteCallback

	mutex            sync.Mutex
	started          bool
	current          ros.Message
	currentStatus    uint8
	currentText      string
	next             ros.Message
	preemptRequested bool
	statusSeq        uint32

	stop chan struct{}
	wake chan struct{}
}

// NewSimpleActionServer creates a server for the named action. The
// action name is the ROS action type without suffix, e.g.
// actionlib_tutorials/Fibonacci.
func NewSimpleActionServer(r *ros.Ros, serverName, actionName string) (*SimpleActionServer, error) {
	s := &SimpleActionServer{
		ros:        r,
		serverName: serverName,
		actionName: actionName,
		log:        r.Logger().WithField("module", "actionlib"),
		stop:       make(chan struct{}),
		wake:       make(chan struct{}, 1),
	}

	var err error
	if s.goalTopic, err = ros.NewTopic(r, serverName+"/goal", actionName+"ActionGoal", nil); err != nil {
		return nil, err
	}
	if s.cancelTopic, err = ros.NewTopic(r, serverName+"/cancel", "actionlib_msgs/GoalID", nil); err != nil {
		return nil, err
	}
	if s.statusTopic, err = ros.NewTopic(r, serverName+"/status", "actionlib_msgs/GoalStatusArray", nil); err != nil {
		return nil, err
	}
	if s.feedbackTopic, err = ros.NewTopic(r, serverName+"/feedback", actionName+"ActionFeedback", nil); err != nil {
		return nil, err
	}
	if s.resultTopic, err = ros.NewTopic(r, serverName+"/result", actionName+"ActionResult", nil); err != nil {
		return nil, err
	}
	return s, nil
}

// Start wires the actionlib topics and begins executing goals through
// the callback. Status is republished at 10 Hz until Shutdown.
func (s *SimpleActionServer) Start(executeCallback ExecuteCallback) error {
	if executeCallback == nil {
		return errors.New("execute callback must not be nil")
	}

	s.mutex.Lock()
	if s.started {
		s.mutex.Unlock()
		return errors.Errorf("action server %s already started", s.serverName)
	}
	s.started = true
	s.executeCallback = executeCallback
	s.mutex.Unlock()

	s.statusTopic.Advertise()
	s.feedbackTopic.Advertise()
	s.resultTopic.Advertise()
	s.goalToken = s.goalTopic.Subscribe(s.onGoalMessage)
	s.cancelToken = s.cancelTopic.Subscribe(s.onCancelMessage)

	go s.statusLoop()
	go s.executor()
	return nil
}

// Shutdown stops the status ticker and releases the topics. The
// current goal, if any, is aborted.
func (s *SimpleActionServer) Shutdown() {
	s.mutex.Lock()
	if !s.started {
		s.mutex.Unlock()
		return
	}
	s.started = false
	active := s.isActiveLocked()
	s.mutex.Unlock()

	if active {
		s.SetAborted(nil, "action server shut down")
	}

	close(s.stop)
	s.goalTopic.Unsubscribe(s.goalToken)
	s.cancelTopic.Unsubscribe(s.cancelToken)
	s.statusTopic.Unadvertise()
	s.feedbackTopic.Unadvertise()
	s.resultTopic.Unadvertise()
}

// IsActive reports whether a goal is currently executing.
func (s *SimpleActionServer) IsActive() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.isActiveLocked()
}

// IsPreemptRequested reports whether the current goal should yield.
func (s *SimpleActionServer) IsPreemptRequested() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.preemptRequested
}

// IsNewGoalAvailable reports whether a goal is parked in the next slot.
func (s *SimpleActionServer) IsNewGoalAvailable() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.next != nil
}

// AcceptNewGoal promotes the parked goal to current and returns its
// payload. The previous goal must already have ended.
func (s *SimpleActionServer) AcceptNewGoal() (ros.Message, error) {
	s.mutex.Lock()
	if s.next == nil {
		s.mutex.Unlock()
		return nil, errors.New("no new goal available")
	}
	if s.isActiveLocked() {
		s.mutex.Unlock()
		return nil, errors.New("current goal still active")
	}
	goal := s.next
	s.acceptLocked(goal)
	s.mutex.Unlock()

	s.publishStatus()
	return goal.Object("goal"), nil
}

// SetSucceeded ends the current goal successfully with the given result.
func (s *SimpleActionServer) SetSucceeded(result ros.Message) error {
	return s.finish(GoalStatusSucceeded, result, "")
}

// SetAborted ends the current goal as failed.
func (s *SimpleActionServer) SetAborted(result ros.Message, text string) error {
	return s.finish(GoalStatusAborted, result, text)
}

// SetPreempted ends the current goal as preempted, honoring a cancel
// or a superseding goal.
func (s *SimpleActionServer) SetPreempted(result ros.Message) error {
	return s.finish(GoalStatusPreempted, result, "goal preempted")
}

// PublishFeedback sends periodic auxiliary information for the
// current goal.
func (s *SimpleActionServer) PublishFeedback(feedback ros.Message) {
	s.mutex.Lock()
	if s.current == nil {
		s.mutex.Unlock()
		return
	}
	status := s.currentStatusLocked()
	s.mutex.Unlock()

	s.feedbackTopic.Publish(ros.Message{
		"status":   status,
		"feedback": feedback,
	})
}

func (s *SimpleActionServer) finish(status uint8, result ros.Message, text string) error {
	return s.finishGoal("", status, result, text)
}

// finishGoal ends the active goal. A non-empty goalID restricts the
// finish to that goal, so a goal accepted after the identified one
// ended is left untouched.
func (s *SimpleActionServer) finishGoal(goalID string, status uint8, result ros.Message, text string) error {
	s.mutex.Lock()
	if s.current == nil || !s.isActiveLocked() {
		s.mutex.Unlock()
		return errors.New("no active goal to finish")
	}
	if goalID != "" && s.current.String("goal_id", "id") != goalID {
		s.mutex.Unlock()
		return errors.Errorf("goal %s is no longer current", goalID)
	}
	if result == nil {
		result = ros.Message{}
	}
	s.currentStatus = status
	s.currentText = text
	statusMsg := s.currentStatusLocked()
	s.mutex.Unlock()

	s.publishStatus()
	s.resultTopic.Publish(ros.Message{
		"status": statusMsg,
		"result": result,
	})
	return nil
}

func (s *SimpleActionServer) onGoalMessage(frame ros.Message) {
	s.mutex.Lock()
	if s.isActiveLocked() {
		replaced := s.next
		s.next = frame
		s.preemptRequested = true
		if s.currentStatus == GoalStatusActive {
			s.currentStatus = GoalStatusPreempting
		}
		s.mutex.Unlock()

		if replaced != nil {
			s.publishResultFor(replaced, GoalStatusPreempted,
				"goal replaced by a newer goal before execution")
		}
		s.publishStatus()
		return
	}

	s.acceptLocked(frame)
	s.mutex.Unlock()

	s.publishStatus()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *SimpleActionServer) onCancelMessage(frame ros.Message) {
	id := frame.String("id")

	s.mutex.Lock()
	currentID := s.current.String("goal_id", "id")
	nextID := s.next.String("goal_id", "id")

	if s.current != nil && (id == "" || id == currentID) {
		s.preemptRequested = true
		if s.currentStatus == GoalStatusActive {
			s.currentStatus = GoalStatusPreempting
		}
	}
	var cancelledNext ros.Message
	if s.next != nil && (id == "" || id == nextID) {
		cancelledNext = s.next
		s.next = nil
	}
	s.mutex.Unlock()

	if cancelledNext != nil {
		s.publishResultFor(cancelledNext, GoalStatusRecalled, "goal recalled before execution")
	}
	s.publishStatus()
}

func (s *SimpleActionServer) executor() {
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}

		for {
			s.mutex.Lock()
			if !s.isActiveLocked() {
				s.mutex.Unlock()
				break
			}
			goalID := s.current.String("goal_id", "id")
			goal := s.current.Object("goal")
			s.mutex.Unlock()

			s.runCallback(goalID, goal)

			// Only the goal the callback ran may be aborted here; a
			// goal accepted since the callback finished must execute.
			if s.finishGoal(goalID, GoalStatusAborted, nil,
				"execute callback did not set a terminal state") == nil {
				s.log.Warnf("execute callback for %s returned without a terminal state; aborting", s.serverName)
			}

			s.mutex.Lock()
			if s.isActiveLocked() {
				s.mutex.Unlock()
				continue
			}
			if s.next == nil {
				s.mutex.Unlock()
				break
			}
			s.acceptLocked(s.next)
			s.mutex.Unlock()
			s.publishStatus()
		}
	}
}

func (s *SimpleActionServer) runCallback(goalID string, goal ros.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("execute callback for %s panicked: %v", s.serverName, r)
			s.finishGoal(goalID, GoalStatusAborted, nil, "execute callback panicked")
		}
	}()
	s.executeCallback(s, goal)
}

func (s *SimpleActionServer) statusLoop() {
	ticker := time.NewTicker(statusPublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.publishStatus()
		}
	}
}

func (s *SimpleActionServer) publishStatus() {
	s.mutex.Lock()
	seq := s.statusSeq
	s.statusSeq++
	list := make([]interface{}, 0, 2)
	if s.current != nil {
		list = append(list, s.currentStatusLocked())
	}
	if s.next != nil {
		list = append(list, goalStatusEntry(s.next.String("goal_id", "id"), GoalStatusPending, ""))
	}
	s.mutex.Unlock()

	s.statusTopic.Publish(ros.Message{
		"header":      ros.NewHeader(seq, ros.Now(), ""),
		"status_list": list,
	})
}

func (s *SimpleActionServer) publishResultFor(goal ros.Message, status uint8, text string) {
	entry := goalStatusEntry(goal.String("goal_id", "id"), status, text)
	s.statusTopic.Publish(ros.Message{
		"header":      ros.NewHeader(0, ros.Now(), ""),
		"status_list": []interface{}{entry},
	})
	s.resultTopic.Publish(ros.Message{
		"status": entry,
		"result": ros.Message{},
	})
}

func (s *SimpleActionServer) acceptLocked(goal ros.Message) {
	s.current = goal
	s.currentStatus = GoalStatusActive
	s.currentText = ""
	s.preemptRequested = false
	if s.next != nil && s.next.String("goal_id", "id") == goal.String("goal_id", "id") {
		s.next = nil
	}
}

func (s *SimpleActionServer) isActiveLocked() bool {
	if s.current == nil {
		return false
	}
	return s.currentStatus == GoalStatusActive || s.currentStatus == GoalStatusPreempting
}

func (s *SimpleActionServer) currentStatusLocked() ros.Message {
	return goalStatusEntry(s.current.String("goal_id", "id"), s.currentStatus, s.currentText)
}

func goalStatusEntry(goalID string, status uint8, text string) ros.Message {
	return ros.Message{
		"goal_id": ros.Message{
			"stamp": ros.Now(),
			"id":    goalID,
		},
		"status": status,
		"text":   text,
	}
}
