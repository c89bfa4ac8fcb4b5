package slotqueue

// ItemHandler initializes and releases the resources of slot items.
// It is called once per item when the queue is initialized and once per
// item when the queue is closed.
type ItemHandler[T any] interface {
	InitItem(item *T) error
	DeinitItem(item *T)
}
