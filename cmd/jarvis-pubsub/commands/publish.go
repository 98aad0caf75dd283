package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/loqalabs/jarvis/internal/pubsub"
)

// publish: send "Message number 1".."Message number N" to --topic.
func publishCmd() *cobra.Command {
	var (
		topic string
		count int
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish numbered messages to a topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			if topic == "" {
				topic = cfg.PubSub.Topic
			}
			if count < 0 {
				count = cfg.PubSub.MessageCount
			}
			publisher := pubsub.NewPublisher(busClient.JetStream(), project, logger)
			if err := publisher.PublishNumbered(cmd.Context(), topic, count); err != nil {
				return err
			}
			logger.Info("published messages", slog.String("project", publisher.Project()), slog.String("topic", topic), slog.Int("count", count))
			fmt.Fprintln(cmd.OutOrStdout(), "Published messages.")
			return nil
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "topic name (default from config, rpi)")
	cmd.Flags().IntVar(&count, "count", -1, "number of messages (default from config, 9)")
	return cmd
}
