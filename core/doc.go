// Package core holds the credit lot domain: lots, holds, purchase orders, the
// store contracts they persist through, and the Service that enforces the
// capacity invariant across them. Adapters depend on core, never the reverse.
package core
