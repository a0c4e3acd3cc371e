package events

import "encoding/json"

// Routing names
const (
	NameChannelCreated            = "channel_created"
	NamePushTokenReceived         = "push_token_received"
	NamePushReceived              = "push_received"
	NameNotificationResponse      = "notification_response"
	NameDeepLink                  = "deep_link"
	NameMessageCenterUpdated      = "message_center_updated"
	NameDisplayMessageCenter      = "display_message_center"
	NameDisplayPreferenceCenter   = "display_preference_center"
	NameNotificationStatusChanged = "notification_status_changed"
	NamePendingEmbeddedUpdated    = "pending_embedded_updated"
	NameLiveActivitiesUpdated     = "live_activities_updated"
)

var knownNames = []string{
	NameChannelCreated,
	NamePushTokenReceived,
	NamePushReceived,
	NameNotificationResponse,
	NameDeepLink,
	NameMessageCenterUpdated,
	NameDisplayMessageCenter,
	NameDisplayPreferenceCenter,
	NameNotificationStatusChanged,
	NamePendingEmbeddedUpdated,
	NameLiveActivitiesUpdated,
}

var knownNameSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(knownNames))
	for _, n := range knownNames {
		m[n] = struct{}{}
	}
	return m
}()

// KnownNames returns every routing name in declaration order.
func KnownNames() []string {
	out := make([]string, len(knownNames))
	copy(out, knownNames)
	return out
}

// IsKnownName reports whether name is a routing name this bridge produces.
func IsKnownName(name string) bool {
	_, ok := knownNameSet[name]
	return ok
}

// DefaultClassification returns the classification a body of the given
// routing name gets from its typed constructor. It is used for raw bodies
// that arrive without one. A notification_response body is background unless
// it decodes with isForeground true.
func DefaultClassification(name string, body json.RawMessage) Classification {
	switch name {
	case NamePushReceived, NameDisplayPreferenceCenter:
		return Background
	case NameNotificationResponse:
		var resp struct {
			IsForeground bool `json:"isForeground"`
		}
		if err := json.Unmarshal(body, &resp); err != nil || !resp.IsForeground {
			return Background
		}
	}
	return Foreground
}

// Body is the typed payload of an event. Each routing name has exactly one
// Body type; the set is closed to this package.
type Body interface {
	EventName() string
	Classification() Classification
	isBody()
}

// ChannelCreatedEvent is sent when the SDK channel is registered.
type ChannelCreatedEvent struct {
	ChannelID string `json:"channelId"`
}

func (ChannelCreatedEvent) EventName() string              { return NameChannelCreated }
func (ChannelCreatedEvent) Classification() Classification { return Foreground }
func (ChannelCreatedEvent) isBody()                        {}

// PushTokenReceivedEvent is sent when the platform push token changes.
type PushTokenReceivedEvent struct {
	PushToken string `json:"pushToken"`
}

func (PushTokenReceivedEvent) EventName() string              { return NamePushTokenReceived }
func (PushTokenReceivedEvent) Classification() Classification { return Foreground }
func (PushTokenReceivedEvent) isBody()                        {}

// PushPayload is the normalized content of a push message.
type PushPayload struct {
	Alert          *string        `json:"alert,omitempty"`
	Title          *string        `json:"title,omitempty"`
	Subtitle       *string        `json:"subtitle,omitempty"`
	NotificationID *string        `json:"notificationId,omitempty"`
	Extras         map[string]any `json:"extras"`
}

// PushReceivedEvent is sent when a push arrives. Pushes may arrive with no UI
// running, so they always take the background path.
type PushReceivedEvent struct {
	PushPayload PushPayload `json:"pushPayload"`
}

func (PushReceivedEvent) EventName() string              { return NamePushReceived }
func (PushReceivedEvent) Classification() Classification { return Background }
func (PushReceivedEvent) isBody()                        {}

// NotificationResponseEvent is sent when the user interacts with a notification.
// IsForeground is computed by the SDK: true for a tap on the notification
// itself, otherwise the action button's foreground flag.
type NotificationResponseEvent struct {
	PushPayload  PushPayload `json:"pushPayload"`
	ActionID     *string     `json:"actionId,omitempty"`
	IsForeground bool        `json:"isForeground"`
}

func (NotificationResponseEvent) EventName() string { return NameNotificationResponse }

func (e NotificationResponseEvent) Classification() Classification {
	if e.IsForeground {
		return Foreground
	}
	return Background
}

func (NotificationResponseEvent) isBody() {}

// DeepLinkEvent is sent when a deep link is opened.
type DeepLinkEvent struct {
	DeepLink string `json:"deepLink"`
}

func (DeepLinkEvent) EventName() string              { return NameDeepLink }
func (DeepLinkEvent) Classification() Classification { return Foreground }
func (DeepLinkEvent) isBody()                        {}

// MessageCenterUpdatedEvent is sent when the message center inbox changes.
type MessageCenterUpdatedEvent struct {
	MessageUnreadCount int `json:"messageUnreadCount"`
	MessageCount       int `json:"messageCount"`
}

func (MessageCenterUpdatedEvent) EventName() string              { return NameMessageCenterUpdated }
func (MessageCenterUpdatedEvent) Classification() Classification { return Foreground }
func (MessageCenterUpdatedEvent) isBody()                        {}

// DisplayMessageCenterEvent asks the app to show the message center.
type DisplayMessageCenterEvent struct {
	MessageID *string `json:"messageId,omitempty"`
}

func (DisplayMessageCenterEvent) EventName() string              { return NameDisplayMessageCenter }
func (DisplayMessageCenterEvent) Classification() Classification { return Foreground }
func (DisplayMessageCenterEvent) isBody()                        {}

// DisplayPreferenceCenterEvent asks the app to show a preference center.
type DisplayPreferenceCenterEvent struct {
	PreferenceCenterID string `json:"preferenceCenterId"`
}

func (DisplayPreferenceCenterEvent) EventName() string              { return NameDisplayPreferenceCenter }
func (DisplayPreferenceCenterEvent) Classification() Classification { return Background }
func (DisplayPreferenceCenterEvent) isBody()                        {}

// NotificationStatus is the notification opt-in state.
type NotificationStatus struct {
	IsUserNotificationsEnabled   bool   `json:"isUserNotificationsEnabled"`
	AreNotificationsAllowed      bool   `json:"areNotificationsAllowed"`
	IsPushPrivacyFeatureEnabled  bool   `json:"isPushPrivacyFeatureEnabled"`
	IsPushTokenRegistered        bool   `json:"isPushTokenRegistered"`
	IsUserOptedIn                bool   `json:"isUserOptedIn"`
	IsOptedIn                    bool   `json:"isOptedIn"`
	NotificationPermissionStatus string `json:"notificationPermissionStatus,omitempty"`
}

// NotificationStatusChangedEvent is sent when the opt-in status changes.
type NotificationStatusChangedEvent struct {
	Status NotificationStatus `json:"status"`
}

func (NotificationStatusChangedEvent) EventName() string              { return NameNotificationStatusChanged }
func (NotificationStatusChangedEvent) Classification() Classification { return Foreground }
func (NotificationStatusChangedEvent) isBody()                        {}

// EmbeddedInfo identifies embedded content that is ready to display.
type EmbeddedInfo struct {
	EmbeddedID string `json:"embeddedId"`
}

// PendingEmbeddedUpdatedEvent is sent when the set of ready embedded content changes.
type PendingEmbeddedUpdatedEvent struct {
	Pending []EmbeddedInfo `json:"pending"`
}

func (PendingEmbeddedUpdatedEvent) EventName() string              { return NamePendingEmbeddedUpdated }
func (PendingEmbeddedUpdatedEvent) Classification() Classification { return Foreground }
func (PendingEmbeddedUpdatedEvent) isBody()                        {}

// LiveActivity is the summary of one live activity.
type LiveActivity struct {
	ID            string         `json:"id"`
	AttributeType string         `json:"attributeType"`
	Content       map[string]any `json:"content"`
}

// LiveActivitiesUpdatedEvent is sent whenever live activities start, update or end.
type LiveActivitiesUpdatedEvent struct {
	Activities []LiveActivity `json:"activities"`
}

func (LiveActivitiesUpdatedEvent) EventName() string              { return NameLiveActivitiesUpdated }
func (LiveActivitiesUpdatedEvent) Classification() Classification { return Foreground }
func (LiveActivitiesUpdatedEvent) isBody()                        {}

// Stream frame names sent to remote runtimes. The frames carry no event data.
const (
	// FramePendingEvents asks the runtime to drain the foreground bucket.
	FramePendingEvents = "pending_events"
	// FramePendingBackgroundEvents asks the runtime to drain the background
	// bucket on behalf of the headless task.
	FramePendingBackgroundEvents = "pending_background_events"
)
