// Package handlerctx carries handler and client identity through the
// contexts passed into Job Generator Adapter callbacks, the way the
// teacher's jobctx package carries the running Job.
package handlerctx
