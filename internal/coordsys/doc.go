// Package coordsys holds the coordinate system attached to a gridded
// visibility table: a SIN-projected direction axis pair, a Stokes axis and a
// linear spectral axis. It also carries the uvw rotation used when a
// visibility's phase centre differs from the grid phase centre.
//
// Angles are soniakeys/unit values (radians); frequencies are Hz.
package coordsys
