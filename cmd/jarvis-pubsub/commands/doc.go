// Package commands defines the jarvis-pubsub CLI.
//
// Commands
//
//   - publish   Send numbered test messages to a topic
//   - receive   Print messages from a subscription until interrupted
//
// The root command loads configuration and connects to the bus before any
// subcommand runs; flags override the pubsub section of the config.
package commands
