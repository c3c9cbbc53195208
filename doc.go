// Package graphload contains the core components of graphload, a library for
// streaming large graph datasets out of a remote graph database in bounded
// batches. This root package defines the types which are employed during the
// regular use of the library, as well as the collaborator interfaces a
// backend must satisfy, and is an excellent overview of graphload's key
// concepts.
package graphload
