package persist

// TransactionType is the transaction management strategy of a persistence
// unit. It is fixed when the unit is configured.
type TransactionType uint8

const (
	// JTA units take part in transactions started by a coordinator that is
	// external to the entity manager.
	JTA TransactionType = iota + 1
	// ResourceLocal units demarcate transactions through the entity
	// manager's own EntityTransaction.
	ResourceLocal
)

var transactionTypeNames = []string{"", "JTA", "RESOURCE_LOCAL"}

// TransactionTypes returns all transaction types in declaration order.
func TransactionTypes() []TransactionType {
	return []TransactionType{JTA, ResourceLocal}
}

// ParseTransactionType parses the name of a transaction type, ignoring case.
func ParseTransactionType(s string) (TransactionType, error) {
	v, err := parseEnum("transaction type", s, transactionTypeNames)
	return TransactionType(v), err
}

// String returns the canonical name of the transaction type.
func (t TransactionType) String() string {
	return enumString("TransactionType", transactionTypeNames, uint8(t))
}

// IsValid reports whether t is one of the declared transaction types.
func (t TransactionType) IsValid() bool {
	return t >= JTA && t <= ResourceLocal
}

// MarshalText implements encoding.TextMarshaler.
func (t TransactionType) MarshalText() ([]byte, error) {
	return marshalEnum("transaction type", transactionTypeNames, uint8(t))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TransactionType) UnmarshalText(text []byte) error {
	v, err := ParseTransactionType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// SynchronizationType controls whether a persistence context joins the
// active JTA transaction on its own.
type SynchronizationType uint8

const (
	// Synchronized contexts join the active transaction on first use.
	Synchronized SynchronizationType = iota + 1
	// Unsynchronized contexts join only when asked to.
	Unsynchronized
)

var synchronizationTypeNames = []string{"", "SYNCHRONIZED", "UNSYNCHRONIZED"}

// SynchronizationTypes returns all synchronization types in declaration order.
func SynchronizationTypes() []SynchronizationType {
	return []SynchronizationType{Synchronized, Unsynchronized}
}

// ParseSynchronizationType parses the name of a synchronization type,
// ignoring case.
func ParseSynchronizationType(s string) (SynchronizationType, error) {
	v, err := parseEnum("synchronization type", s, synchronizationTypeNames)
	return SynchronizationType(v), err
}

// String returns the canonical name of the synchronization type.
func (s SynchronizationType) String() string {
	return enumString("SynchronizationType", synchronizationTypeNames, uint8(s))
}

// IsValid reports whether s is one of the declared synchronization types.
func (s SynchronizationType) IsValid() bool {
	return s >= Synchronized && s <= Unsynchronized
}

// MarshalText implements encoding.TextMarshaler.
func (s SynchronizationType) MarshalText() ([]byte, error) {
	return marshalEnum("synchronization type", synchronizationTypeNames, uint8(s))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SynchronizationType) UnmarshalText(text []byte) error {
	v, err := ParseSynchronizationType(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
