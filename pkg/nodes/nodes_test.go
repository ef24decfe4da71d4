// Copyright 2018-2021 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

package nodes_test

import (
	"context"
	"io"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/kindalus/antbox/pkg/auth"
	"github.com/kindalus/antbox/pkg/errtypes"
	"github.com/kindalus/antbox/pkg/eventbus"
	evtmem "github.com/kindalus/antbox/pkg/eventstore/memory"
	"github.com/kindalus/antbox/pkg/node"
	"github.com/kindalus/antbox/pkg/node/filter"
	"github.com/kindalus/antbox/pkg/nodes"
	"github.com/kindalus/antbox/pkg/repository"
	repmem "github.com/kindalus/antbox/pkg/repository/memory"
	"github.com/kindalus/antbox/pkg/storage"
	stgmem "github.com/kindalus/antbox/pkg/storage/memory"
)

const tenant = "t1"

func ctxFor(actx auth.Context) context.Context {
	return auth.ContextSet(context.Background(), actx)
}

func principal(email string, groups ...string) auth.Context {
	return auth.Context{
		Tenant:    tenant,
		Mode:      auth.ModeDirect,
		Principal: auth.Principal{Email: email, Groups: groups},
	}
}

// brokenStorage fails every write, to exercise the compensation path.
type brokenStorage struct{}

func (brokenStorage) Write(context.Context, string, io.Reader, *storage.WriteOptions) (int64, error) {
	return 0, errors.New("disk on fire")
}
func (brokenStorage) Read(context.Context, string) (io.ReadCloser, error) {
	return nil, errtypes.FileNotFound("nothing here")
}
func (brokenStorage) Delete(context.Context, string) error { return nil }
func (brokenStorage) Close() error                         { return nil }

var _ = Describe("Service", func() {
	var (
		svc    *nodes.Service
		repo   repository.Repository
		store  storage.Storage
		sysCtx context.Context
		alice  context.Context
		bob    context.Context
		anon   context.Context
	)

	BeforeEach(func() {
		var err error
		repo, err = repmem.New(nil)
		Expect(err).ToNot(HaveOccurred())
		store, err = stgmem.New(nil)
		Expect(err).ToNot(HaveOccurred())
		audit, err := evtmem.New(nil)
		Expect(err).ToNot(HaveOccurred())

		svc, err = nodes.New(context.Background(), nodes.Options{
			Tenant:     tenant,
			Repository: repo,
			Storage:    store,
			Audit:      audit,
		})
		Expect(err).ToNot(HaveOccurred())

		sysCtx = ctxFor(auth.System(tenant))
		alice = ctxFor(principal("alice@example.com", "g-team"))
		bob = ctxFor(principal("bob@example.com"))
		anon = ctxFor(auth.Anonymous(tenant))
	})

	// workspace creates a folder under the root that authenticated users
	// can write into, so non-admin scenarios have somewhere to live.
	workspace := func() *node.Node {
		ws, err := svc.Create(sysCtx, map[string]interface{}{
			"title":    "Workspace",
			"mimetype": node.FolderMimetype,
			"parent":   node.RootFolderUUID,
			"permissions": map[string]interface{}{
				"group":         []interface{}{"Read", "Write", "Export"},
				"authenticated": []interface{}{"Read", "Write", "Export"},
				"anonymous":     []interface{}{},
			},
		})
		Expect(err).ToNot(HaveOccurred())
		return ws
	}

	Describe("bootstrap", func() {
		It("provisions the system folders and the admins group", func() {
			for _, uuid := range []string{
				node.RootFolderUUID, node.AspectsFolderUUID, node.UsersFolderUUID,
				node.GroupsFolderUUID, node.APIKeysFolderUUID, node.AgentsFolderUUID,
				node.WorkflowsFolderUUID, node.FeaturesFolderUUID, node.AdminsGroupUUID,
			} {
				n, err := svc.Get(sysCtx, uuid)
				Expect(err).ToNot(HaveOccurred())
				Expect(n.UUID).To(Equal(uuid))
			}
		})

		It("is idempotent", func() {
			_, err := nodes.New(context.Background(), nodes.Options{
				Tenant:     tenant,
				Repository: repo,
				Storage:    store,
			})
			Expect(err).ToNot(HaveOccurred())
		})

		It("resolves the empty id to the root folder", func() {
			n, err := svc.Get(sysCtx, "")
			Expect(err).ToNot(HaveOccurred())
			Expect(n.UUID).To(Equal(node.RootFolderUUID))
		})
	})

	Describe("Create", func() {
		It("creates a folder with server-assigned fields", func() {
			ws := workspace()
			n, err := svc.Create(alice, map[string]interface{}{
				"title":    "Projects",
				"mimetype": node.FolderMimetype,
				"parent":   ws.UUID,
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(n.UUID).ToNot(BeEmpty())
			Expect(n.FID).To(Equal("projects"))
			Expect(n.Owner).To(Equal("alice@example.com"))
			Expect(n.Group).To(Equal("g-team"))
			Expect(n.Permissions.Authenticated).To(ContainElement(node.PermissionRead))
		})

		It("disambiguates colliding fids", func() {
			ws := workspace()
			md := map[string]interface{}{
				"title":    "Report",
				"mimetype": node.FolderMimetype,
				"parent":   ws.UUID,
			}
			first, err := svc.Create(alice, map[string]interface{}{
				"title": "Report", "mimetype": node.FolderMimetype, "parent": ws.UUID,
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(first.FID).To(Equal("report"))

			second, err := svc.Create(alice, md)
			Expect(err).ToNot(HaveOccurred())
			Expect(second.FID).To(Equal("report-2"))

			byFid, err := svc.Get(alice, "--fid--report-2")
			Expect(err).ToNot(HaveOccurred())
			Expect(byFid.UUID).To(Equal(second.UUID))
		})

		It("rejects file mimetypes", func() {
			_, err := svc.Create(sysCtx, map[string]interface{}{
				"title":    "raw",
				"mimetype": "application/pdf",
			})
			Expect(err).To(HaveOccurred())
			Expect(errtypes.CodeOf(err)).To(Equal(errtypes.CodeBadRequest))
		})

		It("forbids anonymous principals", func() {
			_, err := svc.Create(anon, map[string]interface{}{
				"title":    "x",
				"mimetype": node.FolderMimetype,
			})
			Expect(err).To(HaveOccurred())
			Expect(errtypes.CodeOf(err)).To(Equal(errtypes.CodeForbidden))
		})

		It("forces variant nodes into their canonical folder", func() {
			n, err := svc.Create(sysCtx, map[string]interface{}{
				"title":    "Finance",
				"mimetype": node.GroupMimetype,
				"parent":   node.RootFolderUUID,
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(n.Parent).To(Equal(node.GroupsFolderUUID))
		})

		It("publishes NodeCreated", func() {
			var seen []eventbus.NodeCreated
			svc.Bus().Subscribe(func(ev interface{}) {
				seen = append(seen, ev.(eventbus.NodeCreated))
			}, eventbus.NodeCreated{})

			ws := workspace()
			Expect(seen).To(HaveLen(1))
			Expect(seen[0].Node.UUID).To(Equal(ws.UUID))
			Expect(seen[0].Tenant).To(Equal(tenant))
		})
	})

	Describe("CreateFile", func() {
		It("stores the binary and the metadata row together", func() {
			ws := workspace()
			n, err := svc.CreateFile(alice, map[string]interface{}{
				"title":  "notes.txt",
				"parent": ws.UUID,
			}, nodes.FileContent{
				Mimetype: "text/plain",
				Reader:   strings.NewReader("hello"),
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(n.Mimetype).To(Equal("text/plain"))
			Expect(n.Size).To(Equal(int64(5)))

			rc, got, err := svc.Export(alice, n.UUID)
			Expect(err).ToNot(HaveOccurred())
			defer rc.Close()
			body, err := io.ReadAll(rc)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(body)).To(Equal("hello"))
			Expect(got.UUID).To(Equal(n.UUID))
		})

		It("rolls back the metadata row when the blob write fails", func() {
			repo, err := repmem.New(nil)
			Expect(err).ToNot(HaveOccurred())
			broken, err := nodes.New(context.Background(), nodes.Options{
				Tenant:     tenant,
				Repository: repo,
				Storage:    brokenStorage{},
			})
			Expect(err).ToNot(HaveOccurred())

			_, err = broken.CreateFile(ctxFor(auth.System(tenant)), map[string]interface{}{
				"uuid":   "doomed-file-0001",
				"title":  "doomed.txt",
				"parent": node.RootFolderUUID,
			}, nodes.FileContent{Mimetype: "text/plain", Reader: strings.NewReader("x")})
			Expect(err).To(HaveOccurred())

			_, err = broken.Get(ctxFor(auth.System(tenant)), "doomed-file-0001")
			Expect(errtypes.CodeOf(err)).To(Equal(errtypes.CodeNodeNotFound))
		})

		It("requires content", func() {
			ws := workspace()
			_, err := svc.CreateFile(alice, map[string]interface{}{
				"title": "empty.bin", "parent": ws.UUID, "mimetype": "application/octet-stream",
			}, nodes.FileContent{})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Update", func() {
		It("patches mutable fields", func() {
			ws := workspace()
			n, err := svc.Update(alice, mustCreateFolder(svc, alice, ws.UUID, "Drafts").UUID,
				map[string]interface{}{"description": "work in progress"})
			Expect(err).ToNot(HaveOccurred())
			Expect(n.Description).To(Equal("work in progress"))
		})

		It("moves nodes between folders", func() {
			ws := workspace()
			src := mustCreateFolder(svc, alice, ws.UUID, "Src")
			dst := mustCreateFolder(svc, alice, ws.UUID, "Dst")
			child := mustCreateFolder(svc, alice, src.UUID, "Child")

			moved, err := svc.Update(alice, child.UUID, map[string]interface{}{"parent": dst.UUID})
			Expect(err).ToNot(HaveOccurred())
			Expect(moved.Parent).To(Equal(dst.UUID))
		})

		It("rejects a move that would create a cycle", func() {
			ws := workspace()
			top := mustCreateFolder(svc, alice, ws.UUID, "Top")
			mid := mustCreateFolder(svc, alice, top.UUID, "Mid")

			_, err := svc.Update(alice, top.UUID, map[string]interface{}{"parent": mid.UUID})
			Expect(err).To(HaveOccurred())
			Expect(errtypes.CodeOf(err)).To(Equal(errtypes.CodeBadRequest))
		})

		It("rejects patches on system nodes", func() {
			_, err := svc.Update(sysCtx, node.RootFolderUUID, map[string]interface{}{"title": "r00t"})
			Expect(err).To(HaveOccurred())
			Expect(errtypes.CodeOf(err)).To(Equal(errtypes.CodeForbidden))
		})
	})

	Describe("locking", func() {
		It("restricts writes on a locked node to the locker", func() {
			ws := workspace()
			doc := mustCreateFolder(svc, alice, ws.UUID, "Contract")

			_, err := svc.Lock(alice, doc.UUID, nil)
			Expect(err).ToNot(HaveOccurred())

			_, err = svc.Update(bob, doc.UUID, map[string]interface{}{"description": "sneaky"})
			Expect(err).To(HaveOccurred())
			Expect(errtypes.CodeOf(err)).To(Equal(errtypes.CodeForbidden))
			Expect(err.Error()).To(ContainSubstring("locked"))

			_, err = svc.Update(alice, doc.UUID, map[string]interface{}{"description": "mine"})
			Expect(err).ToNot(HaveOccurred())
		})

		It("lets unlock-authorized groups and admins through", func() {
			ws := workspace()
			doc := mustCreateFolder(svc, alice, ws.UUID, "Contract")

			_, err := svc.Lock(alice, doc.UUID, []string{"g-release"})
			Expect(err).ToNot(HaveOccurred())

			releaser := ctxFor(principal("rel@example.com", "g-release"))
			_, err = svc.Unlock(releaser, doc.UUID)
			Expect(err).ToNot(HaveOccurred())

			got, err := svc.Get(alice, doc.UUID)
			Expect(err).ToNot(HaveOccurred())
			Expect(got.Locked).To(BeFalse())
		})

		It("keeps reads open on locked nodes", func() {
			ws := workspace()
			doc := mustCreateFolder(svc, alice, ws.UUID, "Contract")
			_, err := svc.Lock(alice, doc.UUID, nil)
			Expect(err).ToNot(HaveOccurred())

			_, err = svc.Get(bob, doc.UUID)
			Expect(err).ToNot(HaveOccurred())
		})
	})

	Describe("Delete", func() {
		It("cascades through folders", func() {
			ws := workspace()
			top := mustCreateFolder(svc, alice, ws.UUID, "Tree")
			sub := mustCreateFolder(svc, alice, top.UUID, "Branch")
			leaf, err := svc.CreateFile(alice, map[string]interface{}{
				"title": "leaf.txt", "parent": sub.UUID,
			}, nodes.FileContent{Mimetype: "text/plain", Reader: strings.NewReader("leaf")})
			Expect(err).ToNot(HaveOccurred())

			Expect(svc.Delete(alice, top.UUID)).To(Succeed())

			for _, uuid := range []string{top.UUID, sub.UUID, leaf.UUID} {
				_, err := svc.Get(sysCtx, uuid)
				Expect(errtypes.CodeOf(err)).To(Equal(errtypes.CodeNodeNotFound))
			}
		})

		It("refuses system nodes", func() {
			err := svc.Delete(sysCtx, node.AspectsFolderUUID)
			Expect(err).To(HaveOccurred())
			Expect(errtypes.CodeOf(err)).To(Equal(errtypes.CodeForbidden))
		})
	})

	Describe("List", func() {
		It("lists folder children and omits unreadable members", func() {
			ws := workspace()
			visible := mustCreateFolder(svc, alice, ws.UUID, "Public")
			_, err := svc.Create(alice, map[string]interface{}{
				"title":    "Private",
				"mimetype": node.FolderMimetype,
				"parent":   ws.UUID,
				"permissions": map[string]interface{}{
					"group":         []interface{}{"Read", "Write"},
					"authenticated": []interface{}{},
					"anonymous":     []interface{}{},
				},
			})
			Expect(err).ToNot(HaveOccurred())

			members, err := svc.List(bob, ws.UUID)
			Expect(err).ToNot(HaveOccurred())
			titles := []string{}
			for _, m := range members {
				titles = append(titles, m.Title)
			}
			Expect(titles).To(ContainElement(visible.Title))
			Expect(titles).ToNot(ContainElement("Private"))
		})

		It("evaluates smart folders against the whole tenant", func() {
			ws := workspace()
			_, err := svc.CreateFile(alice, map[string]interface{}{
				"title": "a.pdf", "parent": ws.UUID,
			}, nodes.FileContent{Mimetype: "application/pdf", Reader: strings.NewReader("%PDF")})
			Expect(err).ToNot(HaveOccurred())

			sf, err := svc.Create(alice, map[string]interface{}{
				"title":    "All PDFs",
				"mimetype": node.SmartFolderMimetype,
				"parent":   ws.UUID,
				"filters":  `mimetype=="application/pdf"`,
			})
			Expect(err).ToNot(HaveOccurred())

			members, err := svc.List(alice, sf.UUID)
			Expect(err).ToNot(HaveOccurred())
			Expect(members).To(HaveLen(1))
			Expect(members[0].Title).To(Equal("a.pdf"))
		})

		It("rejects non-container nodes", func() {
			ws := workspace()
			f, err := svc.CreateFile(alice, map[string]interface{}{
				"title": "x.txt", "parent": ws.UUID,
			}, nodes.FileContent{Mimetype: "text/plain", Reader: strings.NewReader("x")})
			Expect(err).ToNot(HaveOccurred())

			_, err = svc.List(alice, f.UUID)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("aspects", func() {
		var ws *node.Node
		var invoice *node.Node

		BeforeEach(func() {
			ws = workspace()
			var err error
			invoice, err = svc.Create(sysCtx, map[string]interface{}{
				"title":    "Invoice",
				"mimetype": node.AspectMimetype,
				"properties": []interface{}{
					map[string]interface{}{
						"name": "number", "type": "string", "required": true,
						"validationRegex": "INV-[0-9]{4}",
					},
					map[string]interface{}{
						"name": "currency", "type": "string", "default": "EUR",
					},
					map[string]interface{}{
						"name": "approver", "type": "uuid",
						"validationFilters": `mimetype=="application/vnd.antbox.group"`,
					},
				},
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(invoice.Parent).To(Equal(node.AspectsFolderUUID))
		})

		invoiceNode := func(props map[string]interface{}) (*node.Node, error) {
			md := map[string]interface{}{
				"title":    "March",
				"mimetype": node.MetaNodeMimetype,
				"parent":   ws.UUID,
				"aspects":  []interface{}{invoice.UUID},
			}
			if props != nil {
				md["properties"] = props
			}
			return svc.Create(alice, md)
		}

		It("rejects values that do not match the property regex", func() {
			_, err := invoiceNode(map[string]interface{}{
				invoice.UUID + ":number": "not-a-number",
			})
			Expect(err).To(HaveOccurred())
			verr, ok := err.(*errtypes.ValidationError)
			Expect(ok).To(BeTrue())
			Expect(verr.Has(errtypes.CodePropertyDoesNotMatchRegex)).To(BeTrue())
		})

		It("reports missing required properties", func() {
			_, err := invoiceNode(nil)
			Expect(err).To(HaveOccurred())
			verr, ok := err.(*errtypes.ValidationError)
			Expect(ok).To(BeTrue())
			Expect(verr.Has(errtypes.CodePropertyRequired)).To(BeTrue())
		})

		It("applies defaults and accepts valid values", func() {
			created, err := invoiceNode(map[string]interface{}{
				invoice.UUID + ":number": "INV-0042",
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(created.Properties[invoice.UUID+":currency"]).To(Equal("EUR"))
		})

		It("checks referenced nodes against the property filters", func() {
			_, err := invoiceNode(map[string]interface{}{
				invoice.UUID + ":number":   "INV-0001",
				invoice.UUID + ":approver": ws.UUID,
			})
			Expect(err).To(HaveOccurred())
			verr, ok := err.(*errtypes.ValidationError)
			Expect(ok).To(BeTrue())
			Expect(verr.Has(errtypes.CodePropertyDoesNotMatchFilters)).To(BeTrue())

			created, err := invoiceNode(map[string]interface{}{
				invoice.UUID + ":number":   "INV-0001",
				invoice.UUID + ":approver": node.AdminsGroupUUID,
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(created.Properties[invoice.UUID+":approver"]).To(Equal(node.AdminsGroupUUID))
		})

		It("rejects attaching an unknown aspect", func() {
			_, err := svc.Create(alice, map[string]interface{}{
				"title":    "Orphan",
				"mimetype": node.MetaNodeMimetype,
				"parent":   ws.UUID,
				"aspects":  []interface{}{"ghost-aspect-0001"},
			})
			Expect(err).To(HaveOccurred())
			verr, ok := err.(*errtypes.ValidationError)
			Expect(ok).To(BeTrue())
			Expect(verr.Has(errtypes.CodeInvalidUUID)).To(BeTrue())
		})
	})

	Describe("Find", func() {
		It("prunes unreadable matches from the page", func() {
			ws := workspace()
			mustCreateFolder(svc, alice, ws.UUID, "Findable")
			_, err := svc.Create(alice, map[string]interface{}{
				"title":    "Hidden",
				"mimetype": node.FolderMimetype,
				"parent":   ws.UUID,
				"permissions": map[string]interface{}{
					"group":         []interface{}{"Read"},
					"authenticated": []interface{}{},
					"anonymous":     []interface{}{},
				},
			})
			Expect(err).ToNot(HaveOccurred())

			f := filter.From(filter.New("parent", filter.OpEqual, ws.UUID))
			page, err := svc.Find(bob, f, 10, 1)
			Expect(err).ToNot(HaveOccurred())
			Expect(page.Nodes).To(HaveLen(1))
			Expect(page.Nodes[0].Title).To(Equal("Findable"))
		})
	})

	Describe("Breadcrumbs", func() {
		It("returns the chain root-first", func() {
			ws := workspace()
			top := mustCreateFolder(svc, alice, ws.UUID, "Top")
			mid := mustCreateFolder(svc, alice, top.UUID, "Mid")

			chain, err := svc.Breadcrumbs(alice, mid.UUID)
			Expect(err).ToNot(HaveOccurred())
			uuids := []string{}
			for _, n := range chain {
				uuids = append(uuids, n.UUID)
			}
			Expect(uuids).To(Equal([]string{node.RootFolderUUID, ws.UUID, top.UUID, mid.UUID}))
		})
	})

	Describe("authentication", func() {
		It("treats a missing auth context as unauthorized", func() {
			_, err := svc.Get(context.Background(), node.RootFolderUUID)
			Expect(err).To(HaveOccurred())
			Expect(errtypes.CodeOf(err)).To(Equal(errtypes.CodeUnauthorized))
		})
	})
})

func mustCreateFolder(svc *nodes.Service, ctx context.Context, parent, title string) *node.Node {
	n, err := svc.Create(ctx, map[string]interface{}{
		"title":    title,
		"mimetype": node.FolderMimetype,
		"parent":   parent,
	})
	Expect(err).ToNot(HaveOccurred())
	return n
}
