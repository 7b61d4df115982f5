package irrigation_controller

import "github.com/LeonardoBeccarini/spatial_irrigation/internal/model/entities"

// ClusterResult describes one detection pass.
type ClusterResult struct {
	Found    bool `json:"found"`
	Size     int  `json:"size"`    // size of the qualifying component when Found
	Largest  int  `json:"largest"` // largest component seen during the pass
	DryCount int  `json:"dry_count"`
}

// Isolated is a single dry sensor with no dry neighbour.
func (r ClusterResult) Isolated() bool { return !r.Found && r.Largest == 1 }

// SubThreshold is a connected dry patch too small to trigger.
func (r ClusterResult) SubThreshold() bool { return !r.Found && r.Largest >= 2 }

// ClusterDetector runs BFS over the sensor array with buffers sized once to the
// sensor count. Not safe for concurrent use.
type ClusterDetector struct {
	queue   []int
	visited []bool
}

func NewClusterDetector(n int) *ClusterDetector {
	return &ClusterDetector{
		queue:   make([]int, n),
		visited: make([]bool, n),
	}
}

// FindDryCluster reports the first connected component of dry sensors, in index
// order, whose size is at least minSize. Two sensors are adjacent when their
// squared distance is <= distSq.
func (d *ClusterDetector) FindDryCluster(sensors []entities.SensorNode, minSize, distSq int) ClusterResult {
	if len(sensors) != len(d.visited) {
		d.queue = make([]int, len(sensors))
		d.visited = make([]bool, len(sensors))
	}

	var res ClusterResult
	for i := range sensors {
		if sensors[i].IsDry {
			res.DryCount++
		}
	}
	if res.DryCount == 0 {
		return res
	}
	if res.DryCount < minSize {
		// cannot trigger; one dry sensor needs no graph work to be called isolated
		if res.DryCount == 1 {
			res.Largest = 1
			return res
		}
		minSize = len(sensors) + 1
	}

	for i := range d.visited {
		d.visited[i] = false
	}
	for i := range sensors {
		if !sensors[i].IsDry || d.visited[i] {
			continue
		}
		size := d.expand(sensors, i, distSq)
		if size > res.Largest {
			res.Largest = size
		}
		if size >= minSize {
			res.Found = true
			res.Size = size
			return res
		}
	}
	return res
}

// expand floods the component containing start and returns its size.
func (d *ClusterDetector) expand(sensors []entities.SensorNode, start, distSq int) int {
	head, tail := 0, 0
	d.queue[tail] = start
	tail++
	d.visited[start] = true
	size := 0

	for head < tail {
		cur := d.queue[head]
		head++
		size++
		for j := range sensors {
			if d.visited[j] || !sensors[j].IsDry {
				continue
			}
			if sensors[cur].DistanceSquared(sensors[j]) <= distSq {
				d.visited[j] = true
				d.queue[tail] = j
				tail++
			}
		}
	}
	return size
}
