// Package bridge relays chat messages between Discord channels and Telegram
// chats.
//
// Bridge is a library with a thin process around it (cmd/bridge). Platform
// adapters publish inbound events; the bridge deduplicates, filters and
// routes them through a live pair table, then delivers one formatted copy
// per destination with rate limiting, retry and a dead letter queue.
//
// Key features:
//   - Hot-reconfigurable routing pairs with cycle and duplicate checks
//   - At-most-once visible delivery per source message on a warm dedup store
//   - Per-channel ordering through sharded lanes, bounded backpressure
//   - Exponential backoff with jitter, retry-after hints, dead letter queue
//   - Reply threading through a message link store
//   - Composable store pattern (Memory, Redis, SQLite, JSON file)
//
// Quick start:
//
//	b, err := bridge.New(
//	    bridge.WithStore(memory.New()),
//	    bridge.WithSender(event.Discord, discordSender),
//	    bridge.WithSender(event.Telegram, telegramSender),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	b.Pairs().Upsert(ctx, pair.Input{
//	    Source:      pair.Endpoint{Platform: event.Discord, ChannelID: "100"},
//	    Destination: pair.Endpoint{Platform: event.Telegram, ChannelID: "-200"},
//	})
//
//	b.Start(context.Background())
//	defer b.Stop(ctx)
//
//	b.Publish(ctx, &event.Event{
//	    Platform:  event.Discord,
//	    ChannelID: "100",
//	    MessageID: "1",
//	    Author:    event.Author{ID: "42", Name: "alice"},
//	    Content:   "hello",
//	})
package bridge
