package graph

import (
	"fmt"
	"io"

	"github.com/emicklei/dot"

	"github.com/jarview/jarview/store"
)

// Write renders the fleet structure as a graphviz dot document: one node per
// service, one node per (jar name, version), edges from services to the jar
// versions they run. Out-of-date services stand out as edges into lower
// version numbers.
func Write(st *store.Store, w io.Writer) error {
	g := dot.NewGraph(dot.Directed)
	svcs, err := st.ListServices()
	if err != nil {
		return err
	}
	svcNodes := make(map[int64]dot.Node, len(svcs))
	for _, svc := range svcs {
		n := g.Node(fmt.Sprintf("%s/%s", svc.ServiceName, svc.Environment)).Box()
		svcNodes[svc.ID] = n
	}
	names, err := st.JarNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		rows, err := st.JarsByName(name)
		if err != nil {
			return err
		}
		jarNodes := make(map[int]dot.Node)
		for _, jf := range rows {
			vn, ok := jarNodes[jf.VersionNo]
			if !ok {
				label := fmt.Sprintf("%s@%d", name, jf.VersionNo)
				if jf.VersionNo == 0 {
					label = fmt.Sprintf("%s (unversioned)", name)
				}
				vn = g.Node(label)
				if jf.VersionNo > 0 && jf.VersionNo < jf.LastVersionNo {
					vn.Attr("color", "red")
				}
				jarNodes[jf.VersionNo] = vn
			}
			g.Edge(svcNodes[jf.ServiceID], vn)
		}
	}
	_, err = io.WriteString(w, g.String())
	return err
}
