package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"github.com/plotforge/plotforge/internal/model"
)

// computeFingerprints walks the graph bottom-up (leaves first) and assigns
// each node hash(own content, sorted dependency fingerprints). Sorting the
// dependency fingerprints makes the result independent of declaration order.
// Assumes layers have been computed.
func (g *Graph) computeFingerprints() {
	for _, layer := range g.Layers() {
		for _, n := range layer {
			depPrints := make([]string, len(n.Deps))
			for i, dep := range n.Deps {
				depPrints[i] = string(dep.Fingerprint)
			}
			sort.Strings(depPrints)

			h := sha256.New()
			io.WriteString(h, descriptorDigest(n.Descriptor))
			for _, p := range depPrints {
				io.WriteString(h, "\ndep:"+p)
			}
			n.Fingerprint = model.Fingerprint(hex.EncodeToString(h.Sum(nil)))
		}
	}
}

// descriptorDigest hashes everything about a descriptor that affects its
// output: identity, command, declared outputs, limits, source tree content
// and fetch target. Dependency mounts are included sorted so that reordering
// the declaration list does not change the digest.
func descriptorDigest(d *model.Descriptor) string {
	h := sha256.New()
	io.WriteString(h, "id:"+d.Identity.String()+"\n")

	for _, arg := range d.Command {
		io.WriteString(h, "cmd:"+arg+"\n")
	}

	outputs := append([]string(nil), d.Outputs...)
	sort.Strings(outputs)
	for _, out := range outputs {
		io.WriteString(h, "out:"+out+"\n")
	}

	hosts := append([]string(nil), d.Limits.AllowedHosts...)
	sort.Strings(hosts)
	fmt.Fprintf(h, "limits:%s|%g|%s|%s|%v\n",
		d.Limits.Memory, d.Limits.CPUs, d.Limits.Timeout, d.Limits.Network, hosts)

	io.WriteString(h, "src:"+d.SourceDigest+"\n")
	io.WriteString(h, "fetch:"+d.FetchURL+"|"+d.FetchFileName+"\n")

	mounts := make([]string, len(d.Dependencies))
	for i, dep := range d.Dependencies {
		mounts[i] = dep.Identity.String() + "=>" + dep.Mount
	}
	sort.Strings(mounts)
	for _, m := range mounts {
		io.WriteString(h, "mount:"+m+"\n")
	}

	return hex.EncodeToString(h.Sum(nil))
}
