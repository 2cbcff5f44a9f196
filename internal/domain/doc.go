// Package domain implements the drought-index mathematics: raster grids,
// the calendar of scoring timesteps, rolling aggregation, climatology
// fitting, and the SPI and LFI index computations.
//
// # Indices
//
// SPI (Standardized Precipitation Index) measures precipitation anomaly.
// For each pixel and calendar slot, historical aggregated precipitation is
// fit with a zero-inflated gamma distribution over the configured history
// window. An observation is mapped through the fitted CDF and then through
// the inverse standard-normal CDF, so -1 means roughly one standard
// deviation drier than the historical norm for that time of year.
//
// LFI (Low Flow Index) measures hydrological drought from daily discharge.
// For each pixel and day of year, a threshold is taken at a configured
// quantile (e.g. 0.05) of the historical flows near that calendar day.
// Flow below the threshold accumulates a deficit volume; near-adjacent
// deficit episodes are pooled into a single event so that a brief return
// above the threshold does not split one drought into several. Event
// severity is normalized by lambda, the pixel's long-run mean number of
// qualifying events per year, and accumulated into a decaying index.
//
// # No-data convention
//
// NaN is the no-data sentinel throughout. Any computation consuming a
// no-data input produces no-data output; nothing in this package ever
// substitutes a default value for a missing one. A pixel whose climatology
// could not be fit (insufficient historical support, or no positive
// observations at all) carries no-data parameters and therefore no-data
// index values at that slot.
//
// # Calendar conventions
//
// Timesteps per year take values in {1, 2, 3, 4, 6, 12, 24, 36, 365}:
// yearly, half-yearly, 4-monthly, quarterly, 2-monthly, monthly,
// half-monthly (days 1 and 16), dekadal (days 1, 11 and 21) and daily.
// February 29 is skipped in daily mode, so every year has the same slots
// and climatology grids are keyed by (month, day) alone.
package domain
