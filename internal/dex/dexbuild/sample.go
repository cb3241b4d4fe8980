package dexbuild

import (
	"github.com/dexhelper/internal/dex"
	"github.com/dexhelper/internal/handle"
)

// References into the sample application.
var (
	SampleLogD     = handle.MethodRef{Class: "Lcom/example/util/Log;", Name: "d", Params: []string{"Ljava/lang/String;"}, Return: "V"}
	SampleLogTag   = handle.FieldRef{Class: "Lcom/example/util/Log;", Name: "TAG", Type: "Ljava/lang/String;"}
	SampleRequest  = handle.MethodRef{Class: "Lcom/example/net/Http;", Name: "request", Params: []string{"Ljava/lang/String;"}, Return: "Ljava/lang/String;"}
	SampleOnCreate = handle.MethodRef{Class: "Lcom/example/app/MainActivity;", Name: "onCreate", Params: []string{"Landroid/os/Bundle;"}, Return: "V"}
	SampleGetToken = handle.MethodRef{Class: "Lcom/example/app/MainActivity;", Name: "getToken", Return: "Ljava/lang/String;"}
	SampleToken    = handle.FieldRef{Class: "Lcom/example/app/MainActivity;", Name: "token", Type: "Ljava/lang/String;"}
	SampleSyncRun  = handle.MethodRef{Class: "Lcom/example/app/SyncWorker;", Name: "run", Return: "V"}

	activityOnCreate = handle.MethodRef{Class: "Landroid/app/Activity;", Name: "onCreate", Params: []string{"Landroid/os/Bundle;"}, Return: "V"}
)

// SampleApp writes a two-dex application:
//
//	classes.dex:  Log.d, Log.TAG, Http.request, MainActivity.{onCreate,getToken,token}
//	classes2.dex: SyncWorker.run, which calls Http.request across the dex boundary
//
// onCreate loads "MainActivity created" and "https://api.example.com/login",
// calls Activity.onCreate, Log.d and Http.request, and writes token.
func SampleApp() [][]byte {
	primary := New()

	log := primary.Class("Lcom/example/util/Log;")
	log.Field("TAG", "Ljava/lang/String;", dex.AccPublic|dex.AccStatic)
	log.Method("d", []string{"Ljava/lang/String;"}, "V", dex.AccPublic|dex.AccStatic).Code().
		Sget(1, SampleLogTag).
		ReturnVoid()

	http := primary.Class("Lcom/example/net/Http;")
	http.Method("request", []string{"Ljava/lang/String;"}, "Ljava/lang/String;", dex.AccPublic|dex.AccStatic).Code().
		ConstString(0, "https://api.example.com/").
		InvokeStatic(SampleLogD, 0).
		Return(0)

	main := primary.Class("Lcom/example/app/MainActivity;").Extends("Landroid/app/Activity;")
	main.Field("token", "Ljava/lang/String;", dex.AccPrivate)
	main.Method("onCreate", []string{"Landroid/os/Bundle;"}, "V", dex.AccPublic).Code().
		Invoke(dex.OpInvokeSuper, activityOnCreate, 0, 1).
		ConstString(2, "MainActivity created").
		InvokeStatic(SampleLogD, 2).
		ConstString(2, "https://api.example.com/login").
		InvokeStatic(SampleRequest, 2).
		Iput(2, 0, SampleToken).
		ReturnVoid()
	main.Method("getToken", nil, "Ljava/lang/String;", dex.AccPublic).Code().
		Iget(0, 1, SampleToken).
		Return(0)

	secondary := New()
	secondary.Class("Lcom/example/app/SyncWorker;").
		Method("run", nil, "V", dex.AccPublic).Code().
		ConstString(0, "sync_token").
		InvokeStatic(SampleRequest, 0).
		ReturnVoid()

	return [][]byte{primary.MustBuild(), secondary.MustBuild()}
}
