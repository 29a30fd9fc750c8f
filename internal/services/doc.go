// Package services carries the error taxonomy and context annotations shared
// by the external service clients and the stage executors.
//
// Errors raised while driving an item through the pipeline are wrapped with
// one of the exported sentinel markers so callers can classify failures with
// errors.Is without parsing message text.
package services
