// Package timeline renders accumulated control and reading records into
// fixed-interval watt-value series for reporting.
//
// The run window is divided into equal slices. Each slice is resolved
// against the records whose effective range overlaps that slice: live
// records always outrank archived ones, newer changes outrank older ones,
// and an empty slice yields no value. The result is one series per
// extracted quantity (import limit, export limit, active power and so on),
// aligned so they can be plotted against each other.
package timeline
