package interfaces

// Observer interface allows pluggable metrics collection
type Observer interface {
	// ObserveTrigger is called once per trigger delivered to the producer
	ObserveTrigger()

	// ObserveProduced is called when a filled buffer enters the ready queue
	ObserveProduced(bytes uint64, sync bool)

	// ObserveExhausted is called when no buffer was available for a trigger
	ObserveExhausted()

	// ObserveLost is called for every trigger whose data was dropped
	ObserveLost()

	// ObserveEmpty is called when a push leaves the free pool empty
	ObserveEmpty()

	// ObserveOverflow is called when the hardware reported more data than fits
	ObserveOverflow()

	// ObserveReadError is called when the hardware read failed
	ObserveReadError()

	// ObserveSyncFlushFailure is called when residual data survived the flush retries
	ObserveSyncFlushFailure()

	// ObserveEmit is called for each emission attempt
	ObserveEmit(bytes uint64, latencyNs uint64, success bool)

	// ObserveDrain is called once per End with the drain outcome
	ObserveDrain(timedOut bool)

	// ObserveQueueDepth is called with the ready queue depth after each push
	ObserveQueueDepth(depth uint32)
}
