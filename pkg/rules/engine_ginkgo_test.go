package rules_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/category"
	"github.com/foiacquire/muckrake/pkg/models"
	"github.com/foiacquire/muckrake/pkg/rules"
	"github.com/foiacquire/muckrake/pkg/store"
)

// recordingExecutor logs every fired rule and turns add_tag actions into
// tag events, the way the real tracker does.
type recordingExecutor struct {
	fired []string
	fail  map[string]error
}

func (x *recordingExecutor) Execute(_ context.Context, r models.Rule, ev rules.Event) ([]rules.Event, error) {
	x.fired = append(x.fired, r.Name)
	if err := x.fail[r.Name]; err != nil {
		return nil, err
	}
	if r.Action == models.ActionAddTag {
		d := ev.Derive(models.EventTag)
		d.Tag = r.Params.Tag
		return []rules.Event{d}, nil
	}
	return nil, nil
}

func newStore() *store.ProjectStore {
	db, err := store.Open(":memory:")
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() { _ = store.Close(db) })
	s := store.NewProjectStore(db)
	Expect(s.AutoMigrate()).To(Succeed())
	return s
}

func addRule(s *store.ProjectStore, r models.Rule) {
	r.Enabled = true
	Expect(s.SaveRule(&r)).To(Succeed())
}

var _ = Describe("Engine", func() {
	var (
		project *store.ProjectStore
		exec    *recordingExecutor
		cats    *category.Engine
		file    *models.File
	)

	BeforeEach(func() {
		project = newStore()
		exec = &recordingExecutor{}
		cats = category.NewEngine(nil, []models.Category{
			{Name: "evidence", Pattern: "evidence/**", Protection: models.ProtectionImmutable},
		})
		file = &models.File{ID: 1, Path: "evidence/scan.pdf", Name: "scan.pdf", MimeType: "application/pdf"}
	})

	Context("loop safety", func() {
		It("fires a self-triggering rule exactly once per chain", func() {
			addRule(project, models.Rule{
				Name:    "retag",
				Trigger: models.EventTag,
				Action:  models.ActionAddTag,
				Params:  models.ActionParams{Tag: "seen"},
			})
			engine := rules.NewEngine(project, nil, cats, exec, nil, nil)

			ev := rules.NewEvent(models.EventTag, file)
			ev.Tag = "classified"
			out, err := engine.Dispatch(context.Background(), ev)

			Expect(err).NotTo(HaveOccurred())
			Expect(exec.fired).To(Equal([]string{"retag"}))
			Expect(out.Events).To(Equal(2))
		})

		It("uses fresh tracking for each originating event", func() {
			addRule(project, models.Rule{Name: "note", Trigger: models.EventIngest, Action: models.ActionRunTool, Params: models.ActionParams{Tool: "ocr"}})
			engine := rules.NewEngine(project, nil, cats, exec, nil, nil)

			for range 2 {
				_, err := engine.Dispatch(context.Background(), rules.NewEvent(models.EventIngest, file))
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(exec.fired).To(Equal([]string{"note", "note"}))
		})
	})

	Context("ordering", func() {
		It("fires by ascending priority, then name, across project and workspace", func() {
			workspace := newStore()
			addRule(project, models.Rule{Name: "b-late", Priority: 20, Trigger: models.EventIngest, Action: models.ActionRunTool, Params: models.ActionParams{Tool: "x"}})
			addRule(project, models.Rule{Name: "a-late", Priority: 20, Trigger: models.EventIngest, Action: models.ActionRunTool, Params: models.ActionParams{Tool: "x"}})
			addRule(workspace, models.Rule{Name: "first", Priority: 1, Trigger: models.EventIngest, Action: models.ActionRunTool, Params: models.ActionParams{Tool: "x"}})
			addRule(project, models.Rule{Name: "other-kind", Priority: 0, Trigger: models.EventTag, Action: models.ActionRunTool, Params: models.ActionParams{Tool: "x"}})

			engine := rules.NewEngine(project, workspace, cats, exec, nil, nil)
			_, err := engine.Dispatch(context.Background(), rules.NewEvent(models.EventIngest, file))

			Expect(err).NotTo(HaveOccurred())
			Expect(exec.fired).To(Equal([]string{"first", "a-late", "b-late"}))
		})

		It("skips disabled rules", func() {
			addRule(project, models.Rule{Name: "off", Trigger: models.EventIngest, Action: models.ActionRunTool, Params: models.ActionParams{Tool: "x"}})
			_, err := project.SetRuleEnabled("off", false)
			Expect(err).NotTo(HaveOccurred())

			engine := rules.NewEngine(project, nil, cats, exec, nil, nil)
			_, err = engine.Dispatch(context.Background(), rules.NewEvent(models.EventIngest, file))
			Expect(err).NotTo(HaveOccurred())
			Expect(exec.fired).To(BeEmpty())
		})
	})

	Context("recursion limit", func() {
		It("cuts the chain off and keeps what already ran", func() {
			addRule(project, models.Rule{Name: "r1", Trigger: models.EventIngest, Action: models.ActionAddTag, Params: models.ActionParams{Tag: "t1"}})
			addRule(project, models.Rule{Name: "r2", Trigger: models.EventTag, Filter: models.TriggerFilter{Tag: "t1"}, Action: models.ActionAddTag, Params: models.ActionParams{Tag: "t2"}})
			addRule(project, models.Rule{Name: "r3", Trigger: models.EventTag, Filter: models.TriggerFilter{Tag: "t2"}, Action: models.ActionAddTag, Params: models.ActionParams{Tag: "t3"}})

			engine := rules.NewEngine(project, nil, cats, exec, &rules.RuleConfig{MaxDepth: 2, Enabled: true}, nil)
			out, err := engine.Dispatch(context.Background(), rules.NewEvent(models.EventIngest, file))

			Expect(apierr.Is(err, apierr.CodeRecursionLimit)).To(BeTrue())
			var limit *rules.RecursionLimitError
			Expect(errors.As(err, &limit)).To(BeTrue())
			Expect(limit.Rule).To(Equal("r3"))
			Expect(out.Fired).To(HaveLen(3))
			Expect(exec.fired).To(Equal([]string{"r1", "r2", "r3"}))
		})
	})

	Context("action failures", func() {
		It("records the failure and keeps firing later rules", func() {
			addRule(project, models.Rule{Name: "a", Priority: 1, Trigger: models.EventIngest, Action: models.ActionRunTool, Params: models.ActionParams{Tool: "x"}})
			addRule(project, models.Rule{Name: "b", Priority: 2, Trigger: models.EventIngest, Action: models.ActionRunTool, Params: models.ActionParams{Tool: "y"}})
			exec.fail = map[string]error{"a": errors.New("no tool")}

			engine := rules.NewEngine(project, nil, cats, exec, nil, nil)
			out, err := engine.Dispatch(context.Background(), rules.NewEvent(models.EventIngest, file))

			Expect(err).NotTo(HaveOccurred())
			Expect(exec.fired).To(Equal([]string{"a", "b"}))
			Expect(out.Failed()).To(HaveLen(1))
			Expect(out.Failed()[0].Rule).To(Equal("a"))
		})
	})

	Context("filters", func() {
		DescribeTable("Matches",
			func(filter models.TriggerFilter, mutate func(*rules.Event), want bool) {
				ev := rules.NewEvent(models.EventSign, file)
				ev.Pipeline = "editorial"
				ev.State = "review"
				ev.Signer = "editor"
				if mutate != nil {
					mutate(&ev)
				}
				Expect(rules.Matches(filter, ev, cats)).To(Equal(want))
			},
			Entry("empty filter", models.TriggerFilter{}, nil, true),
			Entry("category contains file", models.TriggerFilter{Category: "evidence"}, nil, true),
			Entry("category misses file", models.TriggerFilter{Category: "notes"}, nil, false),
			Entry("mime exact", models.TriggerFilter{MimeType: "application/pdf"}, nil, true),
			Entry("mime wildcard", models.TriggerFilter{MimeType: "application/*"}, nil, true),
			Entry("mime mismatch", models.TriggerFilter{MimeType: "image/*"}, nil, false),
			Entry("file type", models.TriggerFilter{FileType: "pdf"}, nil, true),
			Entry("file type glob", models.TriggerFilter{FileType: "p*"}, nil, true),
			Entry("file type mismatch", models.TriggerFilter{FileType: "txt"}, nil, false),
			Entry("pipeline and state", models.TriggerFilter{Pipeline: "editorial", State: "review"}, nil, true),
			Entry("state mismatch", models.TriggerFilter{State: "published"}, nil, false),
			Entry("signer", models.TriggerFilter{Sign: "editor"}, nil, true),
			Entry("tag on untagged event", models.TriggerFilter{Tag: "classified"}, nil, false),
			Entry("file filter without file", models.TriggerFilter{FileType: "pdf"}, func(ev *rules.Event) { ev.File = nil }, false),
		)
	})
})
