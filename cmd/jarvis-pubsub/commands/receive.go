package commands

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/jarvis/internal/pubsub"
)

// receive: print every message of --subscription until interrupted.
func receiveCmd() *cobra.Command {
	var (
		subscription string
		topic        string
	)
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Receive messages from a subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			if subscription == "" {
				subscription = cfg.PubSub.Subscription
			}
			if topic == "" {
				topic = cfg.PubSub.SubscriptionTopic
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ackWait := time.Duration(cfg.PubSub.AckWaitMS) * time.Millisecond
			subscriber := pubsub.NewSubscriber(busClient.JetStream(), project, ackWait, logger)
			return subscriber.Receive(ctx, subscription, topic, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&subscription, "subscription", "", "subscription name (default from config, pavilion)")
	cmd.Flags().StringVar(&topic, "topic", "", "topic the subscription is bound to (default from config, rpi)")
	return cmd
}
