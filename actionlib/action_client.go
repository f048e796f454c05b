package actionlib

import (
	"sync"
	"time"

	"github.com/edwinhayes/rosbridge/ros"
	"github.com/sirupsen/logrus"
)

// ActionClientOptions tunes which of the three server-side topics the
// client listens to, and an optional server liveness timeout.
type ActionClientOptions struct {
	OmitFeedback bool
	OmitStatus   bool
	OmitResult   bool
	// Timeout emits "timeout" on the client when no status message has
	// arrived from the server within the window.
	Timeout time.Duration
}

// ActionClient drives goals against one remote action server. It owns
// the goal and cancel publishers and the status, feedback and result
// subscribers, and routes per-goal traffic by goal id.
type ActionClient struct {
	*ros.EventEmitter

	ros        *ros.Ros
	serverName string
	actionName string
	log        logrus.FieldLogger
	idGen      *goalIDGenerator

	goalTopic     *ros.Topic
	cancelTopic   *ros.Topic
	statusTopic   *ros.Topic
	feedbackTopic *ros.Topic
	resultTopic   *ros.Topic

	statusToken   int
	feedbackToken int
	resultToken   int
	options       ActionClientOptions

	mutex          sync.Mutex
	goals          map[string]*Goal
	receivedStatus bool
}

// NewActionClient creates a client for the named action server. The
// action name is the ROS action type without suffix, e.g.
// actionlib_tutorials/Fibonacci.
func NewActionClient(r *ros.Ros, serverName, actionName string, options *ActionClientOptions) (*ActionClient, error) {
	opts := ActionClientOptions{}
	if options != nil {
		opts = *options
	}

	client := &ActionClient{
		EventEmitter: ros.NewEventEmitter(),
		ros:          r,
		serverName:   serverName,
		actionName:   actionName,
		log:          r.Logger().WithField("module", "actionlib"),
		idGen:        newGoalIDGenerator(),
		options:      opts,
		goals:        make(map[string]*Goal),
	}

	var err error
	if client.goalTopic, err = ros.NewTopic(r, serverName+"/goal", actionName+"ActionGoal", nil); err != nil {
		return nil, err
	}
	if client.cancelTopic, err = ros.NewTopic(r, serverName+"/cancel", "actionlib_msgs/GoalID", nil); err != nil {
		return nil, err
	}
	if client.statusTopic, err = ros.NewTopic(r, serverName+"/status", "actionlib_msgs/GoalStatusArray", nil); err != nil {
		return nil, err
	}
	if client.feedbackTopic, err = ros.NewTopic(r, serverName+"/feedback", actionName+"ActionFeedback", nil); err != nil {
		return nil, err
	}
	if client.resultTopic, err = ros.NewTopic(r, serverName+"/result", actionName+"ActionResult", nil); err != nil {
		return nil, err
	}

	client.goalTopic.Advertise()
	client.cancelTopic.Advertise()

	if !opts.OmitStatus {
		client.statusToken = client.statusTopic.Subscribe(client.onStatusMessage)
	}
	if !opts.OmitFeedback {
		client.feedbackToken = client.feedbackTopic.Subscribe(client.onFeedbackMessage)
	}
	if !opts.OmitResult {
		client.resultToken = client.resultTopic.Subscribe(client.onResultMessage)
	}

	if opts.Timeout > 0 {
		r.CallLater(opts.Timeout, func() {
			client.mutex.Lock()
			received := client.receivedStatus
			client.mutex.Unlock()
			if !received {
				client.Emit("timeout", nil)
			}
		})
	}

	return client, nil
}

// ServerName returns the action server name this client talks to.
func (c *ActionClient) ServerName() string {
	return c.serverName
}

// CancelAll asks the server to cancel every goal it currently holds.
func (c *ActionClient) CancelAll() {
	c.cancelTopic.Publish(ros.Message{})
}

// Dispose releases the five actionlib topics. Pending goals receive
// no further events afterwards.
func (c *ActionClient) Dispose() {
	c.goalTopic.Unadvertise()
	c.cancelTopic.Unadvertise()

	if !c.options.OmitStatus {
		c.statusTopic.Unsubscribe(c.statusToken)
	}
	if !c.options.OmitFeedback {
		c.feedbackTopic.Unsubscribe(c.feedbackToken)
	}
	if !c.options.OmitResult {
		c.resultTopic.Unsubscribe(c.resultToken)
	}
}

func (c *ActionClient) addGoal(goal *Goal) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.goals[goal.id] = goal
}

// StopTracking removes the goal from the registry; its events stop.
func (c *ActionClient) StopTracking(goal *Goal) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.goals, goal.id)
}

func (c *ActionClient) lookupGoal(id string) *Goal {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.goals[id]
}

func (c *ActionClient) onStatusMessage(msg ros.Message) {
	c.mutex.Lock()
	c.receivedStatus = true
	c.mutex.Unlock()

	list, ok := msg.Field("status_list")
	if !ok {
		return
	}
	entries, ok := list.([]interface{})
	if !ok {
		return
	}

	for _, entry := range entries {
		obj, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		status := ros.Message(obj)
		if goal := c.lookupGoal(status.String("goal_id", "id")); goal != nil {
			goal.updateStatus(status)
		}
	}
}

func (c *ActionClient) onFeedbackMessage(msg ros.Message) {
	goal := c.lookupGoal(msg.String("status", "goal_id", "id"))
	if goal == nil {
		return
	}
	if status := msg.Object("status"); status != nil {
		goal.updateStatus(status)
	}
	if feedback := msg.Object("feedback"); feedback != nil {
		goal.updateFeedback(feedback)
	}
}

func (c *ActionClient) onResultMessage(msg ros.Message) {
	goal := c.lookupGoal(msg.String("status", "goal_id", "id"))
	if goal == nil {
		c.log.Debugf("result for unknown goal on %s", c.serverName)
		return
	}
	if status := msg.Object("status"); status != nil {
		goal.updateStatus(status)
	}
	if result := msg.Object("result"); result != nil {
		goal.updateResult(result)
	} else {
		goal.updateResult(ros.Message{})
	}
}
