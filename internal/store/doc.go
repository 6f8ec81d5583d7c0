// Package store persists branch reports on the local filesystem.
// Every branch owns one directory below the data root, and the latest
// report for the branch is kept in a fixed file inside it.
package store
