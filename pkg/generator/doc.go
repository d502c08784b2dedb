// Package generator defines the Job Generator Adapter contract: the
// capability set a user plugin must implement, the registry that
// resolves a HandlerSettings.HandlerName to a concrete implementation,
// and a no-op embeddable base for the optional lifecycle hooks.
package generator
