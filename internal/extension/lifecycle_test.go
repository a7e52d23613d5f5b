// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package extension_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/quire-editor/quire/internal/extension"
	"github.com/quire-editor/quire/internal/registry"
	"github.com/quire-editor/quire/internal/resource"
	"github.com/quire-editor/quire/internal/store"
)

var _ = Describe("Extension lifecycle", func() {
	var (
		ctx    context.Context
		host   *extension.Host
		native *extension.NativeRuntime
		fail   bool
	)

	state := func(id string) extension.State {
		st, err := host.Status(id)
		Expect(err).NotTo(HaveOccurred())
		return st.State
	}

	BeforeEach(func() {
		ctx = context.Background()
		fail = false
		native = extension.NewNativeRuntime()
		host = extension.New(resource.NewRepository(store.NewMemoryStore()), extension.Options{
			Runtimes: []extension.Runtime{native},
		})
		native.Register("demo.cycle", extension.NativeFuncs{
			OnActivate: func(_ context.Context, c *extension.Context) error {
				if fail {
					return errors.New("refusing to start")
				}
				_, err := c.StatusBar().Register(registry.StatusBarItem{ID: "demo.cycle.status", Title: "cycling"})
				return err
			},
		})
	})

	AfterEach(func() {
		Expect(host.Close(ctx)).To(Succeed())
	})

	Context("when installed enabled", func() {
		BeforeEach(func() {
			_, err := host.Install(ctx, pkg("demo.cycle", "1.0.0", []string{"ui:statusbar"}, ""))
			Expect(err).NotTo(HaveOccurred())
		})

		It("is activated with its status bar item", func() {
			Expect(state("demo.cycle")).To(Equal(extension.StateActivated))
			Expect(host.Registries().StatusBar.Len()).To(Equal(1))
		})

		It("round-trips through disable and enable", func() {
			Expect(host.Disable(ctx, "demo.cycle")).To(Succeed())
			Expect(state("demo.cycle")).To(Equal(extension.StateDeactivated))
			Expect(host.Registries().StatusBar.Len()).To(BeZero())

			Expect(host.Enable(ctx, "demo.cycle")).To(Succeed())
			Expect(state("demo.cycle")).To(Equal(extension.StateActivated))
			Expect(host.Registries().StatusBar.Len()).To(Equal(1))
		})

		It("treats enabling an active extension as a no-op", func() {
			Expect(host.Enable(ctx, "demo.cycle")).To(Succeed())
			Expect(host.Registries().StatusBar.Len()).To(Equal(1))
		})

		It("moves to error when re-enabling fails, and recovers on retry", func() {
			Expect(host.Disable(ctx, "demo.cycle")).To(Succeed())
			fail = true
			err := host.Enable(ctx, "demo.cycle")
			Expect(err).To(MatchError(ContainSubstring("refusing to start")))
			Expect(state("demo.cycle")).To(Equal(extension.StateError))

			fail = false
			Expect(host.Retry(ctx, "demo.cycle")).To(Succeed())
			Expect(state("demo.cycle")).To(Equal(extension.StateActivated))
		})

		It("forgets the extension on uninstall", func() {
			Expect(host.Uninstall(ctx, "demo.cycle")).To(Succeed())
			Expect(host.Extensions()).To(BeEmpty())
			Expect(host.Registries().StatusBar.Len()).To(BeZero())
			Expect(host.Uninstall(ctx, "demo.cycle")).NotTo(Succeed())
		})
	})

	Context("when installed disabled", func() {
		BeforeEach(func() {
			_, err := host.Install(ctx, pkg("demo.cycle", "1.0.0", []string{"ui:statusbar"}, ""), extension.InstallDisabled())
			Expect(err).NotTo(HaveOccurred())
		})

		It("contributes nothing until enabled", func() {
			Expect(state("demo.cycle")).To(Equal(extension.StateDeactivated))
			Expect(host.Registries().StatusBar.Len()).To(BeZero())
		})

		It("cannot be retried", func() {
			Expect(host.Retry(ctx, "demo.cycle")).To(MatchError(ContainSubstring("cannot go from deactivated")))
		})
	})
})
