// Package mqtt owns the device's MQTT session and the completion scheme
// every other component relies on.
//
// # Connection Manager
//
// Connect validates the configuration synchronously (exactly one of
// certificate+private key or username+password) and then starts the
// connect attempt without blocking. Session lifecycle is reported through
// a LifecycleHandler:
//
//	OnConnectionCompleted(err, returnCode, sessionPresent)  // once per Connect
//	OnConnectionInterrupted(err)                            // any number of times
//	OnConnectionResumed(returnCode, sessionPresent)         // any number of times
//	OnConnectionClosed()                                    // after Disconnect
//
// # Correlation
//
// Subscribe, SubscribeMany, Unsubscribe and Publish return a 16-bit
// correlation id. An id of 0 always comes with a non-nil error and means
// nothing was sent; no completion callback will fire. A nonzero id means
// exactly one completion fires (one per topic for SubscribeMany).
//
// Completions are closures bound to the call that created them. There is
// no shared id-to-callback table: each in-flight call owns a goroutine
// that waits on the engine token and fires its callback once.
//
// # Threading
//
// All callbacks run on engine goroutines, concurrently with the caller.
// Message callbacks for a single subscription arrive in delivery order.
// Payloads are Borrowed buffers; Copy them to retain.
//
// # Usage
//
//	conn, err := mqtt.Connect(cfg.MQTT, mqtt.LifecycleFuncs{
//	    Completed: func(err error, rc byte, present bool) { ... },
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	id, err := conn.Subscribe("$aws/things/device-1/jobs/notify-next", 1,
//	    func(topic string, payload buffer.Buffer) { ... },
//	    func(id uint16, topic string, qos byte, err error) { ... })
package mqtt
