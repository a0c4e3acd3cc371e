// Package source turns native SDK callbacks into pending events.
//
// Every hook builds its event and hands it to the Enqueuer before returning.
// Nothing is deferred, so the order enqueue calls arrive in is the order the
// SDK invoked the callbacks in.
package source

import (
	"log/slog"

	"github.com/welldanyogia/event-bridge/backend/internal/events"
)

// Enqueuer accepts a newly created event. The bridge implements it.
type Enqueuer interface {
	Enqueue(event events.Event)
}

// Source exposes one hook per SDK callback.
type Source struct {
	sink   Enqueuer
	logger *slog.Logger
}

// New creates a Source feeding sink.
func New(sink Enqueuer, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{sink: sink, logger: logger}
}

func (s *Source) emit(body events.Body) {
	event, err := events.NewEvent(body)
	if err != nil {
		// Bodies are plain structs; this only fires if an extras map holds
		// something JSON cannot encode.
		s.logger.Error("failed to build event",
			slog.String("event_name", body.EventName()),
			slog.String("error", err.Error()),
		)
		return
	}
	s.sink.Enqueue(event)
}

// OnChannelCreated is called once the SDK channel is registered.
func (s *Source) OnChannelCreated(channelID string) {
	s.emit(events.ChannelCreatedEvent{ChannelID: channelID})
}

// OnPushTokenReceived is called when the platform push token changes.
func (s *Source) OnPushTokenReceived(pushToken string) {
	s.emit(events.PushTokenReceivedEvent{PushToken: pushToken})
}

// OnPushReceived is called when a push message arrives.
func (s *Source) OnPushReceived(payload events.PushPayload) {
	s.emit(events.PushReceivedEvent{PushPayload: normalizePayload(payload)})
}

// OnNotificationResponse is called when the user taps a notification or one
// of its action buttons. actionID is nil for a tap on the notification itself.
// isForeground is the SDK's own flag and decides the delivery path.
func (s *Source) OnNotificationResponse(payload events.PushPayload, actionID *string, isForeground bool) {
	if actionID == nil {
		isForeground = true
	}
	s.emit(events.NotificationResponseEvent{
		PushPayload:  normalizePayload(payload),
		ActionID:     actionID,
		IsForeground: isForeground,
	})
}

// OnDeepLink is called when a deep link is received.
func (s *Source) OnDeepLink(deepLink string) {
	s.emit(events.DeepLinkEvent{DeepLink: deepLink})
}

// OnMessageCenterUpdated is called when the inbox changes.
func (s *Source) OnMessageCenterUpdated(unreadCount, count int) {
	s.emit(events.MessageCenterUpdatedEvent{
		MessageUnreadCount: unreadCount,
		MessageCount:       count,
	})
}

// OnDisplayMessageCenter is called when the SDK wants the message center shown.
func (s *Source) OnDisplayMessageCenter(messageID *string) {
	s.emit(events.DisplayMessageCenterEvent{MessageID: messageID})
}

// OnDisplayPreferenceCenter is called when the SDK wants a preference center shown.
func (s *Source) OnDisplayPreferenceCenter(preferenceCenterID string) {
	s.emit(events.DisplayPreferenceCenterEvent{PreferenceCenterID: preferenceCenterID})
}

// OnNotificationStatusChanged is called when the notification opt-in changes.
func (s *Source) OnNotificationStatusChanged(status events.NotificationStatus) {
	s.emit(events.NotificationStatusChangedEvent{Status: status})
}

// OnPendingEmbeddedUpdated is called when the set of ready embedded content changes.
func (s *Source) OnPendingEmbeddedUpdated(embeddedIDs []string) {
	pending := make([]events.EmbeddedInfo, 0, len(embeddedIDs))
	for _, id := range embeddedIDs {
		pending = append(pending, events.EmbeddedInfo{EmbeddedID: id})
	}
	s.emit(events.PendingEmbeddedUpdatedEvent{Pending: pending})
}

// OnLiveActivitiesUpdated is called when live activities change.
func (s *Source) OnLiveActivitiesUpdated(activities []events.LiveActivity) {
	if activities == nil {
		activities = []events.LiveActivity{}
	}
	s.emit(events.LiveActivitiesUpdatedEvent{Activities: activities})
}

// normalizePayload makes sure extras encode as an object, never null.
func normalizePayload(p events.PushPayload) events.PushPayload {
	if p.Extras == nil {
		p.Extras = map[string]any{}
	}
	return p
}
