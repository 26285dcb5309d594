// Package persist defines the contract between applications and a
// persistence provider.
//
// The package holds the shared vocabulary only: enumerations that configure
// mapping and transactions, marker interfaces for the options accepted by
// find, lock and refresh operations, descriptors for query results and fetch
// plans, and the callback types used to borrow a native connection. The
// provider package implements these contracts on top of database/sql.
//
// # Enumerations
//
// Every enumeration is a closed set. The zero value means "unspecified" and
// is never valid:
//
//	persist.AccessTypes()          // FIELD, PROPERTY
//	persist.ConstraintModes()      // CONSTRAINT, NO_CONSTRAINT, PROVIDER_DEFAULT
//	persist.ParameterModes()       // IN, INOUT, OUT, REF_CURSOR
//	persist.TransactionTypes()     // JTA, RESOURCE_LOCAL
//	persist.SynchronizationTypes() // SYNCHRONIZED, UNSYNCHRONIZED
//
// Enumerations implement encoding.TextMarshaler and encoding.TextUnmarshaler,
// so they can be used directly in configuration files.
//
// # Options
//
// FindOption, LockOption and RefreshOption are marker interfaces. The
// standard options (LockModeType, Timeout, PessimisticLockScope,
// CacheRetrieveMode, CacheStoreMode) implement the ones they apply to.
// Custom options embed the matching marker:
//
//	type auditOption struct {
//	    persist.FindOptionMarker
//	    reason string
//	}
//
//	em.Find(ctx, &user, 42, persist.LockPessimisticWrite, persist.Timeout(time.Second), auditOption{reason: "billing"})
//
// # Connections
//
// ConnectionFunction and ConnectionConsumer receive the connection the
// provider is using for the current unit of work. Their errors are returned
// to the caller unchanged.
package persist
