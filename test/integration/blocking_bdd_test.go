//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/nottoday/nottoday/internal/daemon"
	"github.com/nottoday/nottoday/internal/domain"
	"github.com/nottoday/nottoday/internal/infra"
	"github.com/nottoday/nottoday/internal/rpc"
)

const baseline = `##
# Host Database
127.0.0.1       localhost
255.255.255.255 broadcasthost
::1             localhost
`

func fullDaySchedule() domain.WeekSchedule {
	week := make(domain.WeekSchedule, 7)
	for _, day := range domain.DisplayOrder {
		week[day] = domain.DaySchedule{
			Enabled: true,
			Ranges:  []domain.TimeRange{domain.NewTimeRange(0, 0, 23, 59)},
		}
	}
	return week
}

var _ = Describe("Hosts File Editor", func() {
	var (
		tmpDir    string
		hostsPath string
		editor    *infra.HostsFile
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "nottoday-integration-*")
		Expect(err).NotTo(HaveOccurred())

		hostsPath = filepath.Join(tmpDir, "hosts")
		err = os.WriteFile(hostsPath, []byte(baseline), 0644)
		Expect(err).NotTo(HaveOccurred())

		editor = infra.NewHostsFileWithPath(hostsPath, infra.NewDirectRunner(), zap.NewNop())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("Activate and Deactivate", func() {
		It("should round-trip the file back to its original bytes", func() {
			err := editor.Activate(context.Background(), []string{"facebook.com", "reddit.com"})
			Expect(err).NotTo(HaveOccurred())

			content, err := os.ReadFile(hostsPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(content)).To(ContainSubstring(infra.SectionStart))
			Expect(string(content)).To(ContainSubstring("127.0.0.1 facebook.com"))
			Expect(string(content)).To(ContainSubstring("127.0.0.1 reddit.com"))
			Expect(string(content)).To(ContainSubstring(infra.SectionEnd))

			err = editor.Deactivate(context.Background())
			Expect(err).NotTo(HaveOccurred())

			content, err = os.ReadFile(hostsPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(content)).To(Equal(baseline))
		})

		It("should survive repeated activation without duplicating the section", func() {
			for i := 0; i < 3; i++ {
				err := editor.Activate(context.Background(), []string{"x.com"})
				Expect(err).NotTo(HaveOccurred())
			}

			sites, err := editor.CurrentSites()
			Expect(err).NotTo(HaveOccurred())
			Expect(sites).To(Equal([]string{"x.com"}))
		})
	})
})

var _ = Describe("Privileged Enforcer", func() {
	var (
		tmpDir    string
		hostsPath string
		editor    *infra.HostsFile
		state     *infra.HelperFileStore
		enforcer  *daemon.Enforcer
		cancel    context.CancelFunc
		done      chan struct{}
	)

	startEnforcer := func() {
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan struct{})
		go func() {
			defer close(done)
			_ = enforcer.Run(ctx)
		}()
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "nottoday-enforcer-*")
		Expect(err).NotTo(HaveOccurred())

		hostsPath = filepath.Join(tmpDir, "hosts")
		err = os.WriteFile(hostsPath, []byte(baseline), 0644)
		Expect(err).NotTo(HaveOccurred())

		editor = infra.NewHostsFileWithPath(hostsPath, infra.NewDirectRunner(), zap.NewNop())
		state = infra.NewHelperFileStoreWithPath(filepath.Join(tmpDir, "helper.json"))
		pid := infra.NewPIDFile(filepath.Join(tmpDir, "helper.pid"), infra.NewProcessManager())
		enforcer = daemon.NewEnforcer(daemon.Config{
			ReconcileInterval: 50 * time.Millisecond,
			ShutdownGrace:     10 * time.Millisecond,
		}, state, editor, pid, zap.NewNop())
	})

	AfterEach(func() {
		if cancel != nil {
			cancel()
			Eventually(done, time.Second).Should(BeClosed())
		}
		os.RemoveAll(tmpDir)
	})

	Context("with a persisted always-on schedule", func() {
		BeforeEach(func() {
			err := state.Save(&domain.HelperConfiguration{
				DaySchedules: fullDaySchedule(),
				Enabled:      true,
				BlockedSites: []string{"facebook.com"},
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("should converge the hosts file without any RPC traffic", func() {
			startEnforcer()

			Eventually(func() (bool, error) {
				return editor.CurrentlyBlocking()
			}, 2*time.Second, 20*time.Millisecond).Should(BeTrue())
		})

		It("should re-install a section that was removed by hand", func() {
			startEnforcer()

			Eventually(func() (bool, error) {
				return editor.CurrentlyBlocking()
			}, 2*time.Second, 20*time.Millisecond).Should(BeTrue())

			err := os.WriteFile(hostsPath, []byte(baseline), 0644)
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() (bool, error) {
				return editor.CurrentlyBlocking()
			}, 2*time.Second, 20*time.Millisecond).Should(BeTrue())
		})
	})

	Context("driven over the RPC channel", func() {
		var (
			socketPath string
			client     *rpc.Client
			srvCancel  context.CancelFunc
		)

		BeforeEach(func() {
			socketPath = filepath.Join(tmpDir, "helper.sock")
			server, err := rpc.NewServer(socketPath, enforcer, zap.NewNop())
			Expect(err).NotTo(HaveOccurred())
			Expect(server.Listen()).To(Succeed())

			var srvCtx context.Context
			srvCtx, srvCancel = context.WithCancel(context.Background())
			go func() { _ = server.Serve(srvCtx) }()

			client = rpc.NewClient(socketPath, zap.NewNop())
			startEnforcer()
		})

		AfterEach(func() {
			client.Close()
			srvCancel()
		})

		It("should accept a schedule push and start enforcing it", func() {
			Expect(client.UpdateSchedule(context.Background(), domain.HelperConfiguration{
				DaySchedules: fullDaySchedule(),
				Enabled:      true,
				BlockedSites: []string{"reddit.com"},
			})).To(Succeed())

			Eventually(func() ([]string, error) {
				return editor.CurrentSites()
			}, 2*time.Second, 20*time.Millisecond).Should(Equal([]string{"reddit.com"}))

			// Disabling the schedule must remove the section again.
			Expect(client.SetScheduleEnabled(context.Background(), false)).To(Succeed())

			Eventually(func() (bool, error) {
				return editor.CurrentlyBlocking()
			}, 2*time.Second, 20*time.Millisecond).Should(BeFalse())
		})

		It("should keep an explicit activation alive against the schedule", func() {
			Expect(client.UpdateSchedule(context.Background(), domain.HelperConfiguration{
				DaySchedules: fullDaySchedule(),
				Enabled:      false,
				BlockedSites: []string{"reddit.com"},
			})).To(Succeed())
			Expect(client.SetScheduleEnabled(context.Background(), false)).To(Succeed())

			Expect(client.ActivateBlocking(context.Background(), []string{"x.com"})).To(Succeed())

			// Several reconcile ticks later the manual block still holds.
			Consistently(func() (bool, error) {
				return editor.CurrentlyBlocking()
			}, 300*time.Millisecond, 20*time.Millisecond).Should(BeTrue())

			Expect(client.DeactivateBlocking(context.Background())).To(Succeed())

			Eventually(func() (bool, error) {
				return editor.CurrentlyBlocking()
			}, 2*time.Second, 20*time.Millisecond).Should(BeFalse())
		})

		It("should uninstall cleanly over RPC", func() {
			Expect(client.ActivateBlocking(context.Background(), []string{"x.com"})).To(Succeed())
			Expect(client.UninstallHelper(context.Background())).To(Succeed())

			Eventually(done, 2*time.Second).Should(BeClosed())

			active, err := editor.CurrentlyBlocking()
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(BeFalse())

			cfg, err := state.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).To(BeNil())
		})
	})
})
