package vm

// DefaultResources is the starting budget of a new VM.
const DefaultResources = uint32(10000)

// ResourceMeter tracks the shared resource budget. Unlike a compute meter
// that zeroes itself on overrun, a failed charge leaves the budget as it was.
type ResourceMeter struct {
	remaining uint32
	consumed  uint64
	limit     uint32
}

// NewResourceMeter creates a meter with the given budget.
func NewResourceMeter(limit uint32) *ResourceMeter {
	return &ResourceMeter{
		remaining: limit,
		limit:     limit,
	}
}

// Check returns an InsufficientResourcesError if cost cannot be paid.
func (m *ResourceMeter) Check(cost uint32) error {
	if m.remaining < cost {
		return &InsufficientResourcesError{Required: cost, Available: m.remaining}
	}
	return nil
}

// Consume charges cost against the budget.
func (m *ResourceMeter) Consume(cost uint32) error {
	if err := m.Check(cost); err != nil {
		return err
	}
	m.remaining -= cost
	m.consumed += uint64(cost)
	return nil
}

// Remaining returns the unspent budget.
func (m *ResourceMeter) Remaining() uint32 {
	return m.remaining
}

// Consumed returns the total charged since the last reset.
func (m *ResourceMeter) Consumed() uint64 {
	return m.consumed
}

// Limit returns the starting budget.
func (m *ResourceMeter) Limit() uint32 {
	return m.limit
}

// IsExhausted returns true once nothing remains.
func (m *ResourceMeter) IsExhausted() bool {
	return m.remaining == 0
}

// Reset restores the starting budget.
func (m *ResourceMeter) Reset() {
	m.remaining = m.limit
	m.consumed = 0
}
