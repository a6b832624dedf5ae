// Package courier delivers events to registered webhooks over HTTP.
//
// Producers call Trigger with an event name and a payload. Courier records
// one delivery per active, subscribed webhook in a durable ledger and hands
// it to a fixed pool of workers. Each attempt formats the payload as JSON
// or XML, signs it with the webhook's secret and POSTs it. Failed attempts
// are retried after a delay until the attempt ceiling is reached; outcomes
// are recorded on the delivery and in the webhook's stats.
//
// Delivery is at least once. Receivers should deduplicate on the
// X-Courier-Delivery header.
//
// Quick start:
//
//	c, err := courier.New(
//	    courier.WithStore(memory.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := c.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Stop(context.Background())
//
//	whID, err := c.Register(ctx, webhook.Input{
//	    URL:    "https://example.com/hooks",
//	    Events: []string{"update.released"},
//	})
//
//	n, err := c.Trigger(ctx, "update.released", map[string]any{"version": "2"})
package courier
