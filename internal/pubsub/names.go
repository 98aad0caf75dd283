// Package pubsub implements the topic/subscription message queue on top of
// NATS JetStream: a topic is a stream bound to one subject, a subscription
// is a durable consumer on that stream.
package pubsub

import (
	"strings"
)

// TopicPath is the fully qualified topic name.
func TopicPath(project, topic string) string {
	return "projects/" + project + "/topics/" + topic
}

// SubscriptionPath is the fully qualified subscription name.
func SubscriptionPath(project, subscription string) string {
	return "projects/" + project + "/subscriptions/" + subscription
}

// Subject is the NATS subject messages for topic are published on.
func Subject(project, topic string) string {
	return project + "." + topic
}

// StreamName is the JetStream stream that stores topic.
func StreamName(project, topic string) string {
	return sanitize(project) + "_" + sanitize(topic)
}

// ConsumerName is the durable consumer backing subscription.
func ConsumerName(project, subscription string) string {
	return sanitize(project) + "_" + sanitize(subscription)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
