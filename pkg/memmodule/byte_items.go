package memmodule

// ByteItems allocates slot items from a memory module.
// It implements slotqueue.ItemHandler[[]byte].
type ByteItems struct {
	Module *Module
	Size   int
}

// InitItem implements slotqueue.ItemHandler.
func (b *ByteItems) InitItem(item *[]byte) error {
	buf, err := b.Module.Alloc(b.Size)
	if err != nil {
		return err
	}

	*item = buf
	return nil
}

// DeinitItem implements slotqueue.ItemHandler.
func (b *ByteItems) DeinitItem(item *[]byte) {
	b.Module.Free(*item) //nolint:errcheck
	*item = nil
}
