package websocket

import "github.com/dukerupert/chorgi/internal/completion"

const (
	EntityTodo    = "todo"
	EntitySession = "session"
	EntityChild   = "child"
	EntityView    = "view"
)

// HubNotifier turns view events into hub broadcasts.
type HubNotifier struct {
	Hub *Hub
}

func (n HubNotifier) TodoToggled(childID, todoID string, scope completion.Scope, done bool) {
	action := "uncompleted"
	if done {
		action = "completed"
	}
	n.Hub.Broadcast(NewMessage(EntityTodo, action, childID, todoID, map[string]any{
		"scope": string(scope),
	}))
}

func (n HubNotifier) SessionExpired(childID string) {
	n.Hub.Broadcast(NewMessage(EntitySession, "expired", childID, "", nil))
}

// ChildAdded announces a newly signed-in child to the home screen.
func (n HubNotifier) ChildAdded(childID string) {
	n.Hub.Broadcast(NewMessage(EntityChild, "created", childID, childID, nil))
}

func (n HubNotifier) ChildRemoved(childID string) {
	n.Hub.Broadcast(NewMessage(EntityChild, "deleted", childID, childID, nil))
}

// ViewChanged tells other screens a child's date or calendar selection moved.
func (n HubNotifier) ViewChanged(childID string) {
	n.Hub.Broadcast(NewMessage(EntityView, "updated", childID, "", nil))
}
