/*
Copyright © 2018 the GeoSim authors.
This file is part of GeoSim.

GeoSim is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

GeoSim is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with GeoSim.  If not, see <http://www.gnu.org/licenses/>.
*/

// GeoSim is a distributed, clock-driven driver for spatially
// decomposed geophysical simulations.
package main

import "github.com/spatialmodel/geosim/geosimutil"

func main() {
	geosimutil.Execute()
}
